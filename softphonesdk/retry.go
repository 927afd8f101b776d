/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package softphonesdk

import (
	"context"
	"fmt"
	"time"
)

// BackoffFunc returns how long to wait after the given failed attempt (1-based)
type BackoffFunc func(attempt int) time.Duration

// LinearBackoff waits base × attempt after each failed attempt
func LinearBackoff(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// RetryPolicy bounds how often and how patiently an operation is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Backoff computes the wait after a failed attempt. Nil means no wait.
	Backoff BackoffFunc

	// Retryable decides whether a failure is worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool
}

// TotalBackoff is the longest the policy can spend waiting between attempts.
func (p RetryPolicy) TotalBackoff() time.Duration {
	if p.Backoff == nil {
		return 0
	}
	var total time.Duration
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		total += p.Backoff(attempt)
	}
	return total
}

// Do runs op until it succeeds, the attempts are exhausted, the error is not
// retryable or ctx is done. It returns nil on success, otherwise the last error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op(ctx, attempt)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after attempt %d: %w (last error: %v)", attempt, ctx.Err(), err)
		case <-timer.C:
		}
	}
	return err
}
