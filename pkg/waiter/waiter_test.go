// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package waiter

import (
	"context"
	"testing"

	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
)

func notified(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestNotifyMatchesMask(t *testing.T) {
	var q Queue
	in, inCh := NewChannelEntry(EventIn)
	out, outCh := NewChannelEntry(EventOut | EventErr)
	q.EventRegister(in)
	q.EventRegister(out)

	if got, want := q.Events(), EventIn|EventOut|EventErr; got != want {
		t.Errorf("Events: got %v, wanted %v", got, want)
	}

	q.Notify(EventErr)
	if notified(inCh) {
		t.Errorf("EventIn waiter notified of EventErr")
	}
	if !notified(outCh) {
		t.Errorf("EventErr waiter not notified")
	}

	// Notifications coalesce.
	q.Notify(EventIn)
	q.Notify(EventIn)
	if !notified(inCh) {
		t.Errorf("EventIn waiter not notified")
	}
	if notified(inCh) {
		t.Errorf("EventIn waiter notified twice")
	}

	q.EventUnregister(in)
	q.Notify(EventIn)
	if notified(inCh) {
		t.Errorf("unregistered waiter notified")
	}
	q.EventUnregister(out)
	if !q.IsEmpty() {
		t.Errorf("IsEmpty: got false after unregistering all entries")
	}
}

func TestWaitCancelled(t *testing.T) {
	_, ch := NewChannelEntry(EventIn)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Wait(ctx, ch); err != linuxerr.EINTR {
		t.Errorf("Wait: got %v, wanted EINTR", err)
	}
}

func TestEventMaskString(t *testing.T) {
	for _, tc := range []struct {
		mask EventMask
		want string
	}{
		{0, "0"},
		{EventIn, "IN"},
		{EventIn | EventHUp, "IN|HUP"},
		{EventOut | EventErr, "OUT|ERR"},
	} {
		if got := tc.mask.String(); got != tc.want {
			t.Errorf("EventMask(%#x).String(): got %q, wanted %q", uint16(tc.mask), got, tc.want)
		}
	}
}
