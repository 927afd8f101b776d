/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"sync"

	"github.com/gammazero/deque"
)

// mailbox is an unbounded FIFO drained by one goroutine. Producers run on
// the gateway listener and must never block on the consumer, which itself
// waits on gateway replies.
type mailbox struct {
	mu     sync.Mutex
	queue  deque.Deque
	signal chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (mb *mailbox) put(item interface{}) {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return
	}
	mb.queue.PushBack(item)
	mb.mu.Unlock()

	select {
	case mb.signal <- struct{}{}:
	default:
	}
}

// drain delivers items in order until close
func (mb *mailbox) drain(deliver func(interface{})) {
	for {
		mb.mu.Lock()
		for mb.queue.Len() > 0 {
			item := mb.queue.PopFront()
			mb.mu.Unlock()
			deliver(item)
			mb.mu.Lock()
		}
		closed := mb.closed
		mb.mu.Unlock()
		if closed {
			return
		}
		<-mb.signal
	}
}

func (mb *mailbox) close() {
	mb.mu.Lock()
	mb.closed = true
	mb.mu.Unlock()
	select {
	case mb.signal <- struct{}{}:
	default:
	}
}
