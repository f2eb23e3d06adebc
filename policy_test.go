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
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLimiter(t *testing.T) {
	Convey("A limiter of 3 per minute", t, func() {
		l := newLimiter(3, time.Minute)
		now := time.Now()
		for i := 0; i < 3; i++ {
			_, e := l.check(now)
			So(e, ShouldBeNil)
			l.record(now.Add(time.Second * time.Duration(i)))
		}

		Convey("Refuses a fourth start", func() {
			until, e := l.check(now.Add(time.Second * 10))
			So(e, ShouldEqual, ErrRateLimited)
			So(until, ShouldEqual, now.Add(time.Minute))
		})
		Convey("Allows it once the oldest start ages out", func() {
			_, e := l.check(now.Add(time.Minute))
			So(e, ShouldBeNil)
			l.record(now.Add(time.Minute))
			until, e := l.check(now.Add(time.Minute))
			So(e, ShouldEqual, ErrRateLimited)
			So(until, ShouldEqual, now.Add(time.Minute+time.Second))
		})
	})

	Convey("A disabled limiter never refuses", t, func() {
		l := newLimiter(-1, time.Minute)
		now := time.Now()
		for i := 0; i < 100; i++ {
			l.record(now)
		}
		_, e := l.check(now)
		So(e, ShouldBeNil)
	})
}

func TestWorkerState(t *testing.T) {
	Convey("Worker states", t, func() {
		So(Serving.String(), ShouldEqual, "serving")
		So(WorkerState(42).String(), ShouldEqual, "unknown")
		So(Draining.Live(), ShouldBeTrue)
		So(Crashed.Live(), ShouldBeFalse)
		So(Terminated.Live(), ShouldBeFalse)

		b, e := json.Marshal(WorkerInfo{Slot: 1, State: Draining})
		So(e, ShouldBeNil)
		So(string(b), ShouldContainSubstring, `"state":"draining"`)

		var wi WorkerInfo
		So(json.Unmarshal(b, &wi), ShouldBeNil)
		So(wi.State, ShouldEqual, Draining)
		So(wi.Slot, ShouldEqual, 1)
	})
}

func TestMetrics(t *testing.T) {
	Convey("Metrics follow events", t, func() {
		m := NewMetrics("")
		m.event(WorkerCrash)
		m.event(WorkerCrash)
		m.event(DrainTimeout)
		m.event(WorkerServing)
		m.transition(Starting, Ready)
		m.setWorkers(map[WorkerState]int{Serving: 3, Crashed: 1})

		So(testutil.ToFloat64(m.crashes), ShouldEqual, 2)
		So(testutil.ToFloat64(m.drainTimeouts), ShouldEqual, 1)
		So(testutil.ToFloat64(m.restarts), ShouldEqual, 0)
		So(testutil.ToFloat64(m.transitions.WithLabelValues("starting", "ready")), ShouldEqual, 1)
		So(testutil.ToFloat64(m.workers.WithLabelValues("serving")), ShouldEqual, 3)
		So(testutil.ToFloat64(m.workers.WithLabelValues("draining")), ShouldEqual, 0)

		n, e := testutil.GatherAndCount(m.Registry(), "prefork_worker_crashes_total")
		So(e, ShouldBeNil)
		So(n, ShouldEqual, 1)
	})

	Convey("A nil Metrics is harmless", t, func() {
		var m *Metrics
		So(func() {
			m.event(WorkerCrash)
			m.transition(Ready, Serving)
			m.setWorkers(nil)
		}, ShouldNotPanic)
	})
}
