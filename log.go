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
	"strings"
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

type LogRecord struct {
	Id   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Log is a bounded, in-memory record of log lines.  It implements
// io.Writer so that it can sit behind a log.Logger, and it allows
// callers to wait for new lines, which is how the admin API implements
// long polling of the log.
type Log struct {
	records []LogRecord
	next    int  // index of the slot written next
	full    bool // true once the ring has wrapped
	id      int64
	changed chan struct{}
	mx      sync.Mutex
}

// Write implements io.Writer.  Each line becomes its own record.
func (l *Log) Write(b []byte) (int, error) {
	now := time.Now()
	l.mx.Lock()
	for _, line := range strings.Split(strings.Trim(string(b), "\n"), "\n") {
		l.id++
		l.records[l.next] = LogRecord{Id: l.id, Time: now, Text: line}
		l.next++
		if l.next == len(l.records) {
			l.next = 0
			l.full = true
		}
	}
	close(l.changed)
	l.changed = make(chan struct{})
	l.mx.Unlock()
	return len(b), nil
}

// Records returns the stored records, oldest first, along with an ID
// suitable for use as an Etag.  If last matches the current ID, nil is
// returned without copying anything.  IDs are not unique across Log
// instances.
func (l *Log) Records(last int64) ([]LogRecord, int64) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.id == last {
		return nil, last
	}
	var recs []LogRecord
	if l.full {
		recs = make([]LogRecord, 0, len(l.records))
		recs = append(recs, l.records[l.next:]...)
	} else {
		recs = make([]LogRecord, 0, l.next)
	}
	recs = append(recs, l.records[:l.next]...)
	return recs, l.id
}

// Watch waits until the log ID differs from last, or until expire has
// elapsed, and returns the current ID.  An expire of zero polls.
func (l *Log) Watch(last int64, expire time.Duration) int64 {
	l.mx.Lock()
	id, ch := l.id, l.changed
	l.mx.Unlock()
	if id != last || expire <= 0 {
		return id
	}
	t := time.NewTimer(expire)
	defer t.Stop()
	select {
	case <-ch:
	case <-t.C:
	}
	l.mx.Lock()
	id = l.id
	l.mx.Unlock()
	return id
}

// NewLog returns a Log holding up to max records.  A max of zero
// selects MaxLogRecords.
func NewLog(max int) *Log {
	if max <= 0 {
		max = MaxLogRecords
	}
	// The origin ID is a timestamp, so that a client holding an Etag
	// from a previous supervisor instance does not see a false match.
	return &Log{
		records: make([]LogRecord, max),
		id:      time.Now().UnixNano(),
		changed: make(chan struct{}),
	}
}
