/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janustest

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// peers holds the gateway-side PeerConnections created to answer or offer
type peers struct {
	mu    sync.Mutex
	byKey map[uint64]*webrtc.PeerConnection
}

func newPeers() *peers {
	return &peers{byKey: make(map[uint64]*webrtc.PeerConnection)}
}

func (p *peers) put(handleID uint64, pc *webrtc.PeerConnection) {
	p.mu.Lock()
	old := p.byKey[handleID]
	p.byKey[handleID] = pc
	p.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

func (p *peers) get(handleID uint64) *webrtc.PeerConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byKey[handleID]
}

func (p *peers) closeAll() {
	p.mu.Lock()
	all := p.byKey
	p.byKey = make(map[uint64]*webrtc.PeerConnection)
	p.mu.Unlock()
	for _, pc := range all {
		_ = pc.Close()
	}
}

func gathered(pc *webrtc.PeerConnection) (string, error) {
	<-webrtc.GatheringCompletePromise(pc)
	desc := pc.LocalDescription()
	if desc == nil {
		return "", fmt.Errorf("local description is nil after gathering")
	}
	return desc.SDP, nil
}

// AnswerOffer answers a client offer the way the gateway would, keeping the
// PeerConnection alive for the handle until the server closes
func (s *Server) AnswerOffer(handleID uint64, offer string) (string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return "", err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		_ = pc.Close()
		return "", err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return "", err
	}
	sdp, err := gathered(pc)
	if err != nil {
		_ = pc.Close()
		return "", err
	}
	s.peers.put(handleID, pc)
	return sdp, nil
}

// CreateOffer produces a gateway-side audio offer for an incoming call
func (s *Server) CreateOffer(handleID uint64, video bool) (string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return "", err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv}); err != nil {
		_ = pc.Close()
		return "", err
	}
	if video {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv}); err != nil {
			_ = pc.Close()
			return "", err
		}
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return "", err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return "", err
	}
	sdp, err := gathered(pc)
	if err != nil {
		_ = pc.Close()
		return "", err
	}
	s.peers.put(handleID, pc)
	return sdp, nil
}

// ApplyAnswer completes a gateway-side offer with the client's answer
func (s *Server) ApplyAnswer(handleID uint64, answer string) error {
	pc := s.peers.get(handleID)
	if pc == nil {
		return fmt.Errorf("no pending offer for handle %d", handleID)
	}
	return pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer})
}
