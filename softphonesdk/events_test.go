/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package softphonesdk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventEmitter(t *testing.T) {
	t.Run("every subscriber receives the event", func(t *testing.T) {
		e := NewEventEmitter()
		var got []string
		e.On("incoming", func(data interface{}) { got = append(got, "a:"+data.(string)) })
		e.On("incoming", func(data interface{}) { got = append(got, "b:"+data.(string)) })

		e.Emit("incoming", "bob")
		assert.Equal(t, []string{"a:bob", "b:bob"}, got)
	})

	t.Run("unsubscribe removes only that handler", func(t *testing.T) {
		e := NewEventEmitter()
		var a, b int
		unsubA := e.On("x", func(interface{}) { a++ })
		e.On("x", func(interface{}) { b++ })

		unsubA()
		unsubA()
		e.Emit("x", nil)
		assert.Equal(t, 0, a)
		assert.Equal(t, 1, b)
		assert.Equal(t, 1, e.Count("x"))
	})

	t.Run("once fires a single time", func(t *testing.T) {
		e := NewEventEmitter()
		n := 0
		e.Once("x", func(interface{}) { n++ })
		e.Emit("x", nil)
		e.Emit("x", nil)
		assert.Equal(t, 1, n)
		assert.Equal(t, 0, e.Count("x"))
	})

	t.Run("off clears an event", func(t *testing.T) {
		e := NewEventEmitter()
		n := 0
		e.On("x", func(interface{}) { n++ })
		e.Off("x")
		e.Emit("x", nil)
		assert.Equal(t, 0, n)
	})

	t.Run("nil handler is ignored", func(t *testing.T) {
		e := NewEventEmitter()
		unsub := e.On("x", nil)
		unsub()
		assert.Equal(t, 0, e.Count("x"))
	})

	t.Run("handler may unsubscribe itself while emitting", func(t *testing.T) {
		e := NewEventEmitter()
		n := 0
		var unsub func()
		unsub = e.On("x", func(interface{}) {
			n++
			unsub()
		})
		e.Emit("x", nil)
		e.Emit("x", nil)
		assert.Equal(t, 1, n)
	})
}
