// Copyright 2026 The Prefork Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prefork

import (
	"time"
)

// limiter bounds how often a slot may be started.  At most limit starts
// are allowed in any window of length period.  A limit of zero or less
// disables limiting.
type limiter struct {
	limit  int
	period time.Duration
	starts []time.Time // ring of the most recent start times
	n      int         // total starts recorded
}

func newLimiter(limit int, period time.Duration) *limiter {
	l := &limiter{limit: limit, period: period}
	if limit > 0 {
		l.starts = make([]time.Time, limit)
	}
	return l
}

// check returns ErrRateLimited if another start now would exceed the
// limit, together with the earliest time a start will be permitted.
func (l *limiter) check(now time.Time) (time.Time, error) {
	if l.limit <= 0 || l.n < l.limit {
		return now, nil
	}
	// The oldest of the last limit starts is the one about to be
	// overwritten.
	oldest := l.starts[l.n%l.limit]
	if until := oldest.Add(l.period); now.Before(until) {
		return until, ErrRateLimited
	}
	return now, nil
}

func (l *limiter) record(now time.Time) {
	if l.limit > 0 {
		l.starts[l.n%l.limit] = now
	}
	l.n++
}
