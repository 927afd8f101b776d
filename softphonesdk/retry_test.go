/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package softphonesdk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearBackoff(t *testing.T) {
	b := LinearBackoff(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b(1))
	assert.Equal(t, 200*time.Millisecond, b(2))
	assert.Equal(t, 500*time.Millisecond, b(5))
}

func TestRetryPolicyTotalBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, Backoff: LinearBackoff(time.Second)}
	// waits after attempts 1, 2 and 3
	assert.Equal(t, 6*time.Second, p.TotalBackoff())
	assert.Equal(t, time.Duration(0), RetryPolicy{MaxAttempts: 3}.TotalBackoff())
}

func TestRetryPolicyDo(t *testing.T) {
	errBoom := errors.New("boom")

	t.Run("stops at first success", func(t *testing.T) {
		calls := 0
		p := RetryPolicy{MaxAttempts: 5, Backoff: LinearBackoff(time.Millisecond)}
		err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
			calls++
			if attempt < 3 {
				return errBoom
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last error after budget", func(t *testing.T) {
		calls := 0
		p := RetryPolicy{MaxAttempts: 3, Backoff: LinearBackoff(time.Millisecond)}
		err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
			calls++
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 3, calls)
	})

	t.Run("non retryable error stops immediately", func(t *testing.T) {
		calls := 0
		p := RetryPolicy{
			MaxAttempts: 3,
			Retryable:   func(err error) bool { return !errors.Is(err, errBoom) },
		}
		err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
			calls++
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancellation aborts the wait", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		p := RetryPolicy{MaxAttempts: 3, Backoff: LinearBackoff(time.Hour)}
		start := time.Now()
		err := p.Do(ctx, func(ctx context.Context, attempt int) error { return errBoom })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("zero attempts still runs once", func(t *testing.T) {
		calls := 0
		_ = RetryPolicy{}.Do(context.Background(), func(ctx context.Context, attempt int) error {
			calls++
			return errBoom
		})
		assert.Equal(t, 1, calls)
	})
}
