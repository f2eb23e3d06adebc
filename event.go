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

// EventKind identifies a supervisor event.
type EventKind int

const (
	WorkerStarted  EventKind = iota // process spawned
	WorkerServing                   // worker accepting connections
	WorkerExited                    // worker exited after being stopped
	WorkerCrash                     // worker exited on its own
	WorkerRestart                   // replacement spawned for a crashed worker
	RateLimited                     // restart deferred, slot restarting too quickly
	DrainStarted                    // pool asked to drain
	DrainTimeout                    // worker killed after the grace period
	ReloadStarted                   // rolling replacement begun
	ReloadFinished                  // rolling replacement done
	PoolStopped                     // all workers gone, socket released
)

var eventNames = [...]string{
	WorkerStarted:  "WorkerStarted",
	WorkerServing:  "WorkerServing",
	WorkerExited:   "WorkerExited",
	WorkerCrash:    "WorkerCrash",
	WorkerRestart:  "WorkerRestart",
	RateLimited:    "RateLimited",
	DrainStarted:   "DrainStarted",
	DrainTimeout:   "DrainTimeout",
	ReloadStarted:  "ReloadStarted",
	ReloadFinished: "ReloadFinished",
	PoolStopped:    "PoolStopped",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "Unknown"
	}
	return eventNames[k]
}

// Event describes something that happened to the pool.  Slot and
// Generation are -1 for pool level events.
type Event struct {
	Kind       EventKind
	Slot       int
	Generation int64
	Pid        int
	Time       time.Time
	Err        error
}
