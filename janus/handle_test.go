/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janus_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/janus-sip-go-sdk/janus"
	"github.com/tejzpr/janus-sip-go-sdk/janus/janustest"
	"github.com/tejzpr/janus-sip-go-sdk/softphonesdk"
)

func TestHandleMessage(t *testing.T) {
	t.Run("ack then async event", func(t *testing.T) {
		server, client := connected(t)
		server.InstallSIP()

		h, err := client.Attach(context.Background(), janustest.SIPPluginName)
		require.NoError(t, err)

		events := make(chan *janus.Message, 4)
		h.On(janus.TypeEvent, func(msg *janus.Message) { events <- msg })

		reply, err := h.Message(context.Background(), map[string]interface{}{"request": "unregister"}, nil)
		require.NoError(t, err)
		assert.Equal(t, janus.TypeAck, reply.Janus)

		select {
		case msg := <-events:
			require.NotNil(t, msg.PluginData)
			assert.Equal(t, janustest.SIPPluginName, msg.PluginData.Plugin)
			var data map[string]interface{}
			require.NoError(t, json.Unmarshal(msg.PluginData.Data, &data))
			assert.Equal(t, "unregistered", data["result"].(map[string]interface{})["event"])
		case <-time.After(2 * time.Second):
			t.Fatal("expected plugin event")
		}

		reqs := server.Requests("unregister")
		assert.Len(t, reqs, 1)
	})

	t.Run("synchronous success is re-emitted as an event", func(t *testing.T) {
		server, client := connected(t)
		server.Handle("janus.plugin.echotest", func(ex *janustest.Exchange) {
			ex.Success(map[string]interface{}{"echotest": "event", "result": "ok"})
		})

		h, err := client.Attach(context.Background(), "janus.plugin.echotest")
		require.NoError(t, err)

		var got *janus.Message
		h.On(janus.TypeEvent, func(msg *janus.Message) { got = msg })

		reply, err := h.Message(context.Background(), map[string]interface{}{"audio": true}, nil)
		require.NoError(t, err)
		assert.Equal(t, janus.TypeSuccess, reply.Janus)
		require.NotNil(t, got)
		assert.Equal(t, h.ID(), got.Sender)
	})

	t.Run("events carry the chosen transaction", func(t *testing.T) {
		server, client := connected(t)
		server.InstallSIP()

		h, err := client.Attach(context.Background(), janustest.SIPPluginName)
		require.NoError(t, err)

		events := make(chan *janus.Message, 4)
		h.On(janus.TypeEvent, func(msg *janus.Message) { events <- msg })

		reply, err := h.MessageTx(context.Background(), "tx-unregister", map[string]interface{}{"request": "unregister"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "tx-unregister", reply.Transaction)

		select {
		case msg := <-events:
			assert.Equal(t, "tx-unregister", msg.Transaction)
		case <-time.After(2 * time.Second):
			t.Fatal("expected plugin event")
		}
	})

	t.Run("jsep travels with the message", func(t *testing.T) {
		server, client := connected(t)
		h, err := client.Attach(context.Background(), janustest.SIPPluginName)
		require.NoError(t, err)

		_, err = h.Message(context.Background(), map[string]interface{}{"request": "accept"}, janus.Answer("v=0\r\n"))
		require.NoError(t, err)

		var found bool
		for _, f := range server.Frames() {
			if f.Janus == janus.TypeMessage && f.JSEP != nil {
				found = true
				assert.Equal(t, "answer", f.JSEP.Type)
				require.NotNil(t, f.JSEP.Trickle)
				assert.False(t, *f.JSEP.Trickle)
			}
		}
		assert.True(t, found)
	})

	t.Run("detached handle refuses messages", func(t *testing.T) {
		_, client := connected(t)
		h, err := client.Attach(context.Background(), janustest.SIPPluginName)
		require.NoError(t, err)
		require.NoError(t, h.Detach(context.Background()))

		_, err = h.Message(context.Background(), map[string]interface{}{"request": "register"}, nil)
		assert.ErrorIs(t, err, softphonesdk.ErrSessionClosed)
	})
}

func TestHandleDetach(t *testing.T) {
	t.Run("emits detached once", func(t *testing.T) {
		server, client := connected(t)
		h, err := client.Attach(context.Background(), janustest.SIPPluginName)
		require.NoError(t, err)

		var count atomic.Int32
		h.On(janus.TypeDetached, func(*janus.Message) { count.Add(1) })

		require.NoError(t, h.Detach(context.Background()))
		require.NoError(t, h.Detach(context.Background()))

		// the gateway's own detached event must not be delivered twice
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(1), count.Load())
		assert.True(t, h.IsDetached())
		assert.Empty(t, server.HandleIDs(janustest.SIPPluginName))
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		server, client := connected(t)
		h, err := client.Attach(context.Background(), janustest.SIPPluginName)
		require.NoError(t, err)

		var count atomic.Int32
		off := h.On(janus.TypeWebRTCUp, func(*janus.Message) { count.Add(1) })
		server.PushJanus(h.ID(), janus.Message{Janus: janus.TypeWebRTCUp})
		assert.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)

		off()
		server.PushJanus(h.ID(), janus.Message{Janus: janus.TypeWebRTCUp})
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(1), count.Load())
	})
}

func TestHandleHangup(t *testing.T) {
	server, client := connected(t)
	h, err := client.Attach(context.Background(), janustest.SIPPluginName)
	require.NoError(t, err)

	require.NoError(t, h.Hangup(context.Background()))
	assert.Equal(t, 1, server.CountFrames(janus.TypeHangup))
}
