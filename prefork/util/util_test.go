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

package util

import (
	"testing"
	"time"

	"github.com/gdamore/prefork"
	. "github.com/smartystreets/goconvey/convey"
)

func TestFormat(t *testing.T) {
	Convey("Durations", t, func() {
		So(FormatDuration(0), ShouldEqual, "0:00:00")
		So(FormatDuration(time.Hour*26+time.Minute*3+time.Second*9), ShouldEqual, "26:03:09")
	})

	Convey("Worker rows", t, func() {
		w := prefork.WorkerInfo{
			Slot:       1,
			Generation: 3,
			Pid:        4242,
			State:      prefork.Serving,
			Since:      time.Now().Add(-time.Minute * 2),
			Restarts:   2,
		}
		So(FormatWorker(w), ShouldStartWith, "   1     3    4242  serving       0:02:0")

		w.Pid = 0
		w.State = prefork.Crashed
		w.Exit = "exited with status 3"
		So(FormatWorker(w), ShouldContainSubstring, "      -  crashed")
		So(FormatWorker(w), ShouldEndWith, "exited with status 3")
	})

	Convey("Summaries", t, func() {
		ws := []prefork.WorkerInfo{
			{State: prefork.Serving},
			{State: prefork.Serving},
			{State: prefork.Ready},
			{State: prefork.Crashed},
		}
		So(Counts(ws)[prefork.Serving], ShouldEqual, 2)
		So(Summary(ws), ShouldEqual, "2 Serving  1 Starting  0 Draining  1 Crashed")
	})
}
