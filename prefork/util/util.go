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

// Package util is used for internal implementation bits in the CLI/UI.
package util

import (
	"fmt"
	"time"

	"github.com/gdamore/prefork"
)

func FormatDuration(d time.Duration) string {

	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

// Uptime is how long the worker has been in its current state, at
// second resolution.
func Uptime(w prefork.WorkerInfo) time.Duration {
	d := time.Since(w.Since)
	if d < 0 {
		return 0
	}
	return d - d%time.Second
}

// FormatWorker renders one worker as a table row.  See Header.
func FormatWorker(w prefork.WorkerInfo) string {
	pid := "-"
	if w.Pid > 0 {
		pid = fmt.Sprint(w.Pid)
	}
	return fmt.Sprintf("%4d %5d %7s  %-10s %10s %8d  %s",
		w.Slot, w.Generation, pid, w.State,
		FormatDuration(Uptime(w)), w.Restarts, w.Exit)
}

const Header = "SLOT   GEN     PID  STATE            SINCE RESTARTS  EXIT"

// Counts tallies workers by state.
func Counts(ws []prefork.WorkerInfo) map[prefork.WorkerState]int {
	m := make(map[prefork.WorkerState]int)
	for _, w := range ws {
		m[w.State]++
	}
	return m
}

// Summary is a one line description of the pool.
func Summary(ws []prefork.WorkerInfo) string {
	c := Counts(ws)
	return fmt.Sprintf("%d Serving  %d Starting  %d Draining  %d Crashed",
		c[prefork.Serving], c[prefork.Starting]+c[prefork.Ready],
		c[prefork.Draining], c[prefork.Crashed])
}
