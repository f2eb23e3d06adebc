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
	"fmt"
	"time"

	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"

	"github.com/gdamore/prefork"
	"github.com/gdamore/prefork/prefork/util"
)

// InfoPanel shows the details of every worker in one slot.  Normally
// there is only one, but during a reload the replacement and the
// draining predecessor appear together.
type InfoPanel struct {
	text *views.TextArea
	slot int

	Panel
}

func NewInfoPanel(app *App) *InfoPanel {
	p := &InfoPanel{}
	p.Panel.Init(app)

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)
	p.SetServer(app.GetServer())
	p.SetKeys([]string{"[ESC] Main", "[H] Help", "[L] Log"})
	return p
}

func (p *InfoPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *InfoPanel) HandleEvent(ev tcell.Event) bool {
	app := p.App()
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			app.ShowMain()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.ShowMain()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'L', 'l':
				app.ShowLog()
				return true
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

func (p *InfoPanel) SetSlot(slot int) {
	p.slot = slot
}

func workerLines(w prefork.WorkerInfo) []string {
	killed := ""
	if w.Killed {
		killed = " (killed)"
	}
	return []string{
		fmt.Sprintf("%12s %d.%d", "Worker:", w.Slot, w.Generation),
		fmt.Sprintf("%12s %d", "Pid:", w.Pid),
		fmt.Sprintf("%12s %s%s", "State:", w.State, killed),
		fmt.Sprintf("%12s %s (%s)", "Since:",
			w.Since.Format(time.RFC3339), util.FormatDuration(util.Uptime(w))),
		fmt.Sprintf("%12s %s", "Started:", w.Started.Format(time.RFC3339)),
		fmt.Sprintf("%12s %d", "Restarts:", w.Restarts),
		fmt.Sprintf("%12s %s", "Exit:", w.Exit),
	}
}

// update must be called on the application goroutine.
func (p *InfoPanel) update() {
	p.SetTitle(fmt.Sprintf("Slot %d", p.slot))

	ws, e := p.App().GetSlot(p.slot)
	if e != nil {
		p.SetStatus(fmt.Sprintf("No data: %v", e))
		p.SetLevel(LevelError)
		p.text.SetLines(nil)
		return
	}

	var lines []string
	level := LevelGood
	for i, w := range ws {
		if i > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, workerLines(w)...)
		switch w.State {
		case prefork.Crashed:
			level = LevelError
		case prefork.Serving, prefork.Terminated:
		default:
			if level != LevelError {
				level = LevelWarn
			}
		}
	}
	p.text.SetLines(lines)
	p.SetStatus(fmt.Sprintf("%d worker(s)", len(ws)))
	p.SetLevel(level)
}
