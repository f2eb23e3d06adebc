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

	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"

	"github.com/gdamore/prefork"
	"github.com/gdamore/prefork/prefork/util"
)

var (
	StyleNormal = tcell.StyleDefault.
			Foreground(tcell.ColorSilver).
			Background(tcell.ColorBlack)
	StyleGood = tcell.StyleDefault.
			Foreground(tcell.ColorGreen).
			Background(tcell.ColorBlack)
	StyleWarn = tcell.StyleDefault.
			Foreground(tcell.ColorYellow).
			Background(tcell.ColorBlack)
	StyleError = tcell.StyleDefault.
			Foreground(tcell.ColorMaroon).
			Background(tcell.ColorBlack)
)

func stateStyle(st prefork.WorkerState) tcell.Style {
	switch st {
	case prefork.Serving:
		return StyleGood
	case prefork.Starting, prefork.Ready, prefork.Draining:
		return StyleWarn
	case prefork.Crashed:
		return StyleError
	}
	return StyleNormal
}

// MainPanel shows the worker table.  The first line is a header; the
// cursor moves over the workers below it.
type MainPanel struct {
	content  *views.CellView
	selected *prefork.WorkerInfo
	width    int
	height   int
	curx     int
	cury     int
	lines    []string
	styles   []tcell.Style
	items    []prefork.WorkerInfo

	Panel
}

// mainModel provides the model for a CellArea.
type mainModel struct {
	m *MainPanel
}

func NewMainPanel(app *App) *MainPanel {
	m := &MainPanel{}

	m.Panel.Init(app)
	m.content = views.NewCellView()
	m.SetContent(m.content)

	m.content.SetModel(&mainModel{m})
	m.content.SetStyle(StyleNormal)

	m.SetServer(app.GetServer())
	m.SetTitle("Workers")
	m.SetKeys([]string{"[Q] Quit"})

	return m
}

func (m *MainPanel) Draw() {
	m.update()
	m.Panel.Draw()
}

func (m *MainPanel) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			m.unselect()
			return true
		case tcell.KeyF1:
			m.App().ShowHelp()
			return true
		case tcell.KeyEnter:
			if m.selected != nil {
				m.App().ShowInfo(m.selected.Slot)
				return true
			}
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				m.App().Quit()
				return true
			case 'H', 'h':
				m.App().ShowHelp()
				return true
			case 'I', 'i':
				if m.selected != nil {
					m.App().ShowInfo(m.selected.Slot)
					return true
				}
			case 'L', 'l':
				m.App().ShowLog()
				return true
			case 'R', 'r':
				m.App().Reload()
				return true
			}
		}
	}
	return m.Panel.HandleEvent(ev)
}

// Model items
func (model *mainModel) GetCell(x, y int) (rune, tcell.Style, []rune, int) {
	m := model.m

	if y < 0 || y >= len(m.lines) {
		return ' ', StyleNormal, nil, 1
	}

	ch := ' '
	if x >= 0 && x < len(m.lines[y]) {
		ch = rune(m.lines[y][x])
	}
	style := m.styles[y]
	if y > 0 && m.selected != nil && y-1 == m.cury {
		style = style.Reverse(true)
	}
	return ch, style, nil, 1
}

func (model *mainModel) GetBounds() (int, int) {
	// This assumes that all content is displayable runes of width 1.
	m := model.m
	x := 0
	for _, l := range m.lines {
		if x < len(l) {
			x = len(l)
		}
	}
	return x, len(m.lines)
}

func (model *mainModel) GetCursor() (int, int, bool, bool) {
	m := model.m
	return m.curx, m.cury + 1, true, false
}

func (model *mainModel) MoveCursor(offx, offy int) {
	m := model.m
	m.curx += offx
	m.cury += offy
	m.updateCursor(true)
}

func (model *mainModel) SetCursor(x, y int) {
	m := model.m
	m.curx = x
	m.cury = y - 1
	m.updateCursor(true)
}

func (m *MainPanel) unselect() {
	m.cury = 0
	m.curx = 0
	m.updateCursor(false)
}

func (m *MainPanel) updateCursor(selected bool) {
	if m.curx > m.width-1 {
		m.curx = m.width - 1
	}
	if m.cury > m.height-1 {
		m.cury = m.height - 1
	}
	if m.curx < 0 {
		m.curx = 0
	}
	if m.cury < 0 {
		m.cury = 0
	}
	if selected && m.height > 0 {
		if m.selected == nil {
			m.curx = 0
			m.cury = 0
		}
		w := m.items[m.cury]
		m.selected = &w
	} else {
		m.selected = nil
	}
}

// update is called to update content, e.g. in response to Draw() or
// as part of another update.  It is called on the application goroutine.
func (m *MainPanel) update() {

	items, err := m.App().GetItems()

	if err != nil {
		if unauthorized(err) {
			m.App().ShowAuth()
			return
		}
		m.SetLevel(LevelError)
		m.SetStatus(fmt.Sprintf("Cannot load workers: %v", err))
		m.items = nil
		m.lines = []string{}
		m.styles = []tcell.Style{}
		m.height = 0
		m.selected = nil
		return
	}
	m.items = items

	// preserve the selected worker, following its slot across restarts
	if sel := m.selected; sel != nil {
		m.selected = nil
		for i := range m.items {
			if m.items[i].Slot == sel.Slot {
				w := m.items[i]
				m.selected = &w
				m.cury = i
				break
			}
		}
	}

	lines := make([]string, 0, len(items)+1)
	styles := make([]tcell.Style, 0, len(items)+1)
	lines = append(lines, util.Header)
	styles = append(styles, StyleNormal.Bold(true))
	m.width = len(util.Header)
	for _, w := range items {
		line := util.FormatWorker(w)
		if len(line) > m.width {
			m.width = len(line)
		}
		lines = append(lines, line)
		styles = append(styles, stateStyle(w.State))
	}
	m.height = len(items)
	m.lines = lines
	m.styles = styles

	counts := util.Counts(items)
	status := util.Summary(items)
	if pool := m.App().GetPool(); pool != nil {
		m.SetTitle(fmt.Sprintf("%s on %s", pool.Name, pool.Addr))
		switch {
		case pool.Draining:
			status = "Draining  " + status
		case pool.Reloading:
			status = "Reloading  " + status
		}
	}
	if n := m.App().Notice(); n != "" {
		status = n
	}
	m.SetStatus(status)

	switch {
	case counts[prefork.Crashed] > 0:
		m.SetLevel(LevelError)
	case counts[prefork.Serving] < len(items):
		m.SetLevel(LevelWarn)
	case len(items) > 0:
		m.SetLevel(LevelGood)
	default:
		m.SetLevel(LevelNormal)
	}

	words := []string{"[Q] Quit", "[H] Help", "[L] Log", "[R] Reload"}
	if m.selected != nil {
		words = append(words, "[I] Info")
	}
	m.SetKeys(words)
}
