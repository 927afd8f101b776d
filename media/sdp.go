/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// Description is a summary of an SDP payload
type Description struct {
	HasAudio    bool
	HasVideo    bool
	AudioCodecs []string
	VideoCodecs []string
	// Direction of the first audio section (sendrecv, sendonly, recvonly, inactive)
	AudioDirection string
}

// DescribeSDP parses an SDP payload and reports which media it carries.
// Video sections with port 0 are rejected sections and do not count.
func DescribeSDP(raw string) (*Description, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("failed to parse SDP: %w", err)
	}

	desc := &Description{}
	for _, md := range parsed.MediaDescriptions {
		if md.MediaName.Port.Value == 0 {
			continue
		}
		codecs := rtpmapCodecs(md)
		switch md.MediaName.Media {
		case "audio":
			if !desc.HasAudio {
				desc.AudioDirection = direction(md)
			}
			desc.HasAudio = true
			desc.AudioCodecs = append(desc.AudioCodecs, codecs...)
		case "video":
			desc.HasVideo = true
			desc.VideoCodecs = append(desc.VideoCodecs, codecs...)
		}
	}
	return desc, nil
}

// HasVideo reports whether an SDP payload negotiates video; unparsable
// payloads report false
func HasVideo(raw string) bool {
	desc, err := DescribeSDP(raw)
	return err == nil && desc.HasVideo
}

func rtpmapCodecs(md *sdp.MediaDescription) []string {
	var out []string
	for _, a := range md.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		// "111 opus/48000/2"
		parts := strings.Fields(a.Value)
		if len(parts) < 2 {
			continue
		}
		name := strings.SplitN(parts[1], "/", 2)[0]
		out = append(out, strings.ToLower(name))
	}
	return out
}

func direction(md *sdp.MediaDescription) string {
	for _, a := range md.Attributes {
		switch a.Key {
		case "sendrecv", "sendonly", "recvonly", "inactive":
			return a.Key
		}
	}
	return "sendrecv"
}
