// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package waiter provides the implementation of a wait queue, where waiters can
// be enqueued to be notified when an event of interest happens.
//
// Blocking system calls are built from non-blocking attempts:
//
//	func (o *object) blockingRead(ctx context.Context, ...) error {
//		e, ch := waiter.NewChannelEntry(waiter.EventIn)
//		o.EventRegister(e)
//		defer o.EventUnregister(e)
//		for {
//			err := o.nonBlockingRead(...)
//			if err != linuxerr.EAGAIN {
//				return err
//			}
//			if err := waiter.Wait(ctx, ch); err != nil {
//				return err
//			}
//		}
//	}
//
// Registering before the first attempt closes the window in which the object
// becomes ready between the attempt and the registration. Writers notify after
// changing state:
//
//	o.Notify(waiter.EventIn)
package waiter

import (
	"context"

	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/sync"
)

// EventMask represents io events as used in the poll() syscall.
type EventMask uint16

// Events that waiters can wait on. The meaning is the same as those in the
// poll() syscall.
const (
	EventIn  EventMask = 0x01 // POLLIN
	EventOut EventMask = 0x04 // POLLOUT
	EventErr EventMask = 0x08 // POLLERR
	EventHUp EventMask = 0x10 // POLLHUP
)

// String returns the names of the events in m joined by '|'.
func (m EventMask) String() string {
	if m == 0 {
		return "0"
	}
	var s string
	for _, ev := range []struct {
		mask EventMask
		name string
	}{
		{EventIn, "IN"},
		{EventOut, "OUT"},
		{EventErr, "ERR"},
		{EventHUp, "HUP"},
	} {
		if m&ev.mask == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += ev.name
	}
	return s
}

// Waitable contains the methods that need to be implemented by waitable
// objects.
type Waitable interface {
	// Readiness returns what the object is currently ready for, limited to
	// mask. EventHUp and EventErr may be returned regardless of mask.
	Readiness(mask EventMask) EventMask

	// EventRegister registers e to be notified of the events in its mask.
	EventRegister(e *Entry)

	// EventUnregister unregisters an entry previously registered with
	// EventRegister.
	EventUnregister(e *Entry)
}

// Entry represents a waiter that can be added to a wait queue. It can only
// be in one queue at a time.
type Entry struct {
	mask EventMask
	ch   chan struct{}
}

// NewChannelEntry returns an Entry interested in mask that does a
// non-blocking send on the returned channel when notified.
func NewChannelEntry(mask EventMask) (*Entry, <-chan struct{}) {
	e := &Entry{mask: mask, ch: make(chan struct{}, 1)}
	return e, e.ch
}

// Mask returns the events e is interested in.
func (e *Entry) Mask() EventMask {
	return e.mask
}

func (e *Entry) notify() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until ch receives a notification or ctx is done. It returns
// EINTR in the latter case.
func Wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return linuxerr.EINTR
	}
}

// Queue represents the wait queue where waiters can be added and
// notifiers can notify them when events happen.
//
// The zero value for waiter.Queue is an empty queue ready for use.
type Queue struct {
	mu sync.RWMutex

	// +checklocks:mu
	entries []*Entry
}

// EventRegister adds e to the wait queue.
func (q *Queue) EventRegister(e *Entry) {
	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()
}

// EventUnregister removes e from the wait queue.
func (q *Queue) EventUnregister(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.entries {
		if it == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

// Notify notifies all waiters in the queue whose masks have at least one bit
// in common with the notification mask.
func (q *Queue) Notify(mask EventMask) {
	q.mu.RLock()
	for _, e := range q.entries {
		if mask&e.mask != 0 {
			e.notify()
		}
	}
	q.mu.RUnlock()
}

// Events returns the set of events being waited on. It is the union of the
// masks of all registered entries.
func (q *Queue) Events() EventMask {
	var ret EventMask
	q.mu.RLock()
	for _, e := range q.entries {
		ret |= e.mask
	}
	q.mu.RUnlock()
	return ret
}

// IsEmpty returns if the wait queue is empty or not.
func (q *Queue) IsEmpty() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries) == 0
}
