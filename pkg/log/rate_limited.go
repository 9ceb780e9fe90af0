// Copyright 2022 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited is a Logger that passes at most one message per interval to
// an underlying Logger. Messages dropped in between are counted, and the
// next message let through reports how many there were.
//
// Only messages at a level the underlying Logger emits consume the limit, so
// a burst of filtered debug messages does not starve later warnings.
type RateLimited struct {
	logger Logger
	limit  *rate.Limiter

	// pending is the number of messages dropped since the last one emitted.
	pending atomic.Uint64

	// suppressed is the total number of messages dropped.
	suppressed atomic.Uint64
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger no
// more than once per the provided duration.
func BasicRateLimitedLogger(every time.Duration) *RateLimited {
	return RateLimitedLogger(Log(), every)
}

// RateLimitedLogger returns a Logger that logs to the provided logger no more
// than once per the provided duration.
func RateLimitedLogger(logger Logger, every time.Duration) *RateLimited {
	return &RateLimited{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}

// Suppressed returns the number of messages dropped so far.
func (rl *RateLimited) Suppressed() uint64 {
	return rl.suppressed.Load()
}

// admit reports whether a message at level may be emitted, and returns the
// format to emit it with.
func (rl *RateLimited) admit(level Level, format string) (string, bool) {
	if !rl.logger.IsLogging(level) {
		return "", false
	}
	if !rl.limit.Allow() {
		rl.pending.Add(1)
		rl.suppressed.Add(1)
		return "", false
	}
	if n := rl.pending.Swap(0); n > 0 {
		return format + " (" + strconv.FormatUint(n, 10) + " similar messages suppressed)", true
	}
	return format, true
}

// Debugf implements Logger.Debugf.
func (rl *RateLimited) Debugf(format string, v ...any) {
	if f, ok := rl.admit(Debug, format); ok {
		rl.logger.Debugf(f, v...)
	}
}

// Infof implements Logger.Infof.
func (rl *RateLimited) Infof(format string, v ...any) {
	if f, ok := rl.admit(Info, format); ok {
		rl.logger.Infof(f, v...)
	}
}

// Warningf implements Logger.Warningf.
func (rl *RateLimited) Warningf(format string, v ...any) {
	if f, ok := rl.admit(Warning, format); ok {
		rl.logger.Warningf(f, v...)
	}
}

// IsLogging implements Logger.IsLogging.
func (rl *RateLimited) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}
