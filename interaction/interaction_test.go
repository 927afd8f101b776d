/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package interaction

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecord(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{Click, true},
		{Touch, true},
		{KeyDown, true},
		{Focus, false},
		{Kind("scroll"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			tr := New()
			assert.Equal(t, tt.want, tr.Record(tt.kind))
			assert.Equal(t, tt.want, tr.HasInteracted())
		})
	}

	t.Run("only the first counts", func(t *testing.T) {
		tr := New()
		assert.True(t, tr.Record(KeyDown))
		assert.False(t, tr.Record(Click))
		_, kind, ok := tr.First()
		assert.True(t, ok)
		assert.Equal(t, KeyDown, kind)
	})
}

func TestOnFirstInteraction(t *testing.T) {
	tr := New()
	var calls atomic.Int32
	tr.OnFirstInteraction(func() { calls.Add(1) })
	tr.OnFirstInteraction(func() { calls.Add(1) })
	cancel := tr.OnFirstInteraction(func() { calls.Add(100) })
	cancel()
	assert.Equal(t, 2, tr.Pending())

	tr.Record(Focus)
	assert.Equal(t, int32(0), calls.Load())

	tr.Record(Click)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, tr.Pending())

	tr.Record(Touch)
	assert.Equal(t, int32(2), calls.Load())

	t.Run("after interaction runs immediately", func(t *testing.T) {
		ran := false
		tr.OnFirstInteraction(func() { ran = true })
		assert.True(t, ran)
	})
}

func TestConcurrentRecord(t *testing.T) {
	tr := New()
	var calls atomic.Int32
	tr.OnFirstInteraction(func() { calls.Add(1) })

	var wg sync.WaitGroup
	var firsts atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Record(Click) {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), firsts.Load())
	assert.Equal(t, int32(1), calls.Load())
}
