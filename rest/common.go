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

// Package rest implements the administrative HTTP interface of a prefork
// supervisor, and a client for it.
//
// Read only resources carry an Etag.  A client that already holds the
// current Etag may ask the server to hold the request until it changes,
// by sending the Etag in PollEtagHeader and the number of seconds to wait
// in PollTimeHeader.  If nothing changes in that time, the server answers
// 304 Not Modified.
package rest

import (
	"strconv"
	"time"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	PollEtagHeader = "X-Prefork-Poll-Etag"
	PollTimeHeader = "X-Prefork-Poll-Time"

	// MaxPollTime caps how long the server holds a long poll, in seconds.
	MaxPollTime = 300
)

var ok struct{}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func etagOf(id int64) string {
	return strconv.FormatInt(id, 10)
}

func pollSeconds(secs int) time.Duration {
	if secs > MaxPollTime {
		secs = MaxPollTime
	}
	if secs < 0 {
		secs = 0
	}
	return time.Duration(secs) * time.Second
}
