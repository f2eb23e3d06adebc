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

package ui

import (
	"errors"
	"testing"
	"time"

	"github.com/gdamore/prefork"
	"github.com/gdamore/prefork/prefork/util"
	"github.com/gdamore/prefork/rest"
	. "github.com/smartystreets/goconvey/convey"
)

func testWorkers(states ...prefork.WorkerState) []prefork.WorkerInfo {
	ws := make([]prefork.WorkerInfo, 0, len(states))
	for i, st := range states {
		ws = append(ws, prefork.WorkerInfo{
			Slot:       i,
			Generation: 1,
			Pid:        1000 + i,
			State:      st,
			Since:      time.Now(),
			Started:    time.Now(),
		})
	}
	return ws
}

func TestKeyMarkup(t *testing.T) {
	Convey("Keys are highlighted", t, func() {
		So(keyMarkup([]string{"[Q] Quit", "[H] Help"}), ShouldEqual,
			"[%AQ%N] Quit [%AH%N] Help")
		So(keyMarkup([]string{"100% [X]"}), ShouldEqual, "100%% [%AX%N]")
	})
}

func TestPanels(t *testing.T) {
	Convey("Given an app", t, func() {
		a := NewApp(rest.NewClient(nil, "http://127.0.0.1:1"), "http://127.0.0.1:1")
		So(a.GetAppName(), ShouldEqual, "prefork top")
		So(a.panel, ShouldEqual, a.main)

		Convey("The main panel lists workers", func() {
			a.setItems(&prefork.Info{Name: "web", Addr: "0.0.0.0:80"},
				testWorkers(prefork.Serving, prefork.Serving), nil)
			m := a.main
			m.update()
			So(len(m.lines), ShouldEqual, 3)
			So(m.lines[0], ShouldEqual, util.Header)
			So(m.lines[2], ShouldStartWith, "   1     1    1001  serving")
			So(m.styles[1], ShouldResemble, StyleGood)
			So(m.sb.Level(), ShouldEqual, LevelGood)

			Convey("And follows a selected slot", func() {
				model := &mainModel{m}
				model.MoveCursor(0, 1)
				So(m.selected, ShouldNotBeNil)
				So(m.selected.Slot, ShouldEqual, 0)
				model.MoveCursor(0, 1)
				So(m.selected.Slot, ShouldEqual, 1)

				ws := testWorkers(prefork.Serving, prefork.Starting)
				ws[1].Generation = 2
				a.setItems(a.pool, ws, nil)
				m.update()
				So(m.selected.Generation, ShouldEqual, 2)
				So(m.sb.Level(), ShouldEqual, LevelWarn)

				m.unselect()
				So(m.selected, ShouldBeNil)
			})
		})

		Convey("Crashes are errors", func() {
			a.setItems(nil, testWorkers(prefork.Serving, prefork.Crashed), nil)
			a.main.update()
			So(a.main.styles[2], ShouldResemble, StyleError)
			So(a.main.sb.Level(), ShouldEqual, LevelError)
		})

		Convey("Failures are shown", func() {
			a.setItems(nil, nil, errors.New("connection refused"))
			a.main.update()
			So(len(a.main.lines), ShouldEqual, 0)
			So(a.main.sb.Level(), ShouldEqual, LevelError)
		})

		Convey("The info panel shows one slot", func() {
			a.setItems(nil, testWorkers(prefork.Serving, prefork.Draining), nil)
			a.info.SetSlot(1)
			a.info.update()
			So(a.info.sb.Level(), ShouldEqual, LevelWarn)

			a.info.SetSlot(5)
			a.info.update()
			So(a.info.sb.Level(), ShouldEqual, LevelError)
		})

		Convey("Worker details", func() {
			w := testWorkers(prefork.Crashed)[0]
			w.Killed = true
			w.Exit = "signal: killed"
			lines := workerLines(w)
			So(lines[0], ShouldEqual, "     Worker: 0.1")
			So(lines[2], ShouldEqual, "      State: crashed (killed)")
			So(lines[6], ShouldEqual, "       Exit: signal: killed")
		})

		Convey("Unauthorized errors are recognized", func() {
			So(unauthorized(&rest.Error{Code: 401, Message: "Unauthorized"}), ShouldBeTrue)
			So(unauthorized(&rest.Error{Code: 404, Message: "Not found"}), ShouldBeFalse)
			So(unauthorized(errors.New("401")), ShouldBeFalse)
		})
	})
}
