/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package softphonesdk

import "sync"

// EventHandler is a callback function for events
type EventHandler func(data interface{})

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventEmitter provides a multi-subscriber pub/sub system. Handlers run
// synchronously on the emitting goroutine, in subscription order.
type EventEmitter struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]subscription
}

// NewEventEmitter creates a new EventEmitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[string][]subscription),
	}
}

// On registers an event handler for a specific event type and returns a
// function that removes exactly that handler.
func (e *EventEmitter) On(event string, handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.handlers[event] = append(e.handlers[event], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(event, id) })
	}
}

// Once registers a handler that is removed after its first invocation
func (e *EventEmitter) Once(event string, handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}
	var (
		once  sync.Once
		unsub func()
	)
	ready := make(chan struct{})
	unsub = e.On(event, func(data interface{}) {
		<-ready
		once.Do(func() {
			unsub()
			handler(data)
		})
	})
	close(ready)
	return unsub
}

func (e *EventEmitter) remove(event string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.handlers[event]
	for i, s := range subs {
		if s.id == id {
			e.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(e.handlers[event]) == 0 {
		delete(e.handlers, event)
	}
}

// Off removes all handlers for a specific event type
func (e *EventEmitter) Off(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Count returns the number of handlers registered for event
func (e *EventEmitter) Count(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[event])
}

// Emit fires an event, calling all registered handlers
func (e *EventEmitter) Emit(event string, data interface{}) {
	e.mu.RLock()
	subs := make([]subscription, len(e.handlers[event]))
	copy(subs, e.handlers[event])
	e.mu.RUnlock()

	for _, s := range subs {
		s.handler(data)
	}
}
