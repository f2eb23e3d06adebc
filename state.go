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

// WorkerState is the lifecycle state of a single worker process.
//
//	Starting -> Ready -> Serving -> Draining -> Terminated
//	    |         |         |
//	    +---------+---------+----> Crashed
//
// A Crashed slot is either refilled by a new worker (which begins again
// at Starting) or left empty, depending on the RestartPolicy.
type WorkerState int

const (
	Starting WorkerState = iota
	Ready
	Serving
	Draining
	Terminated
	Crashed
)

var stateNames = [...]string{
	Starting:   "starting",
	Ready:      "ready",
	Serving:    "serving",
	Draining:   "draining",
	Terminated: "terminated",
	Crashed:    "crashed",
}

func (st WorkerState) String() string {
	if st < 0 || int(st) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[st]
}

// Live reports whether a worker in this state still has a process.
func (st WorkerState) Live() bool {
	return st != Terminated && st != Crashed
}

func (st WorkerState) MarshalText() ([]byte, error) {
	return []byte(st.String()), nil
}

func (st *WorkerState) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*st = WorkerState(i)
			return nil
		}
	}
	*st = WorkerState(-1)
	return nil
}
