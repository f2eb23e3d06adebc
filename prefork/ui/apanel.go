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
	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"
)

// Width of the visible part of an input field.
const fieldWidth = 16

var (
	fieldFocus = tcell.StyleDefault.
			Foreground(tcell.ColorWhite).Background(tcell.ColorNavy)
	fieldIdle = StyleNormal
)

// field is a single line of input.
type field struct {
	text   *views.Text
	value  []rune
	secret bool
}

func newField() *field {
	f := &field{text: views.NewText(), value: make([]rune, 0, 128)}
	f.text.SetStyle(fieldIdle)
	return f
}

// render shows the tail of the value, masked if secret, with a cursor
// when focused.
func (f *field) render(focused bool) {
	shown := make([]rune, 0, len(f.value)+1)
	for _, r := range f.value {
		if f.secret {
			r = '*'
		}
		shown = append(shown, r)
	}
	style := fieldIdle
	if focused {
		shown = append(shown, '_')
		style = fieldFocus
	}
	if len(shown) > fieldWidth {
		shown = shown[len(shown)-fieldWidth:]
		shown[0] = '<'
	}
	for len(shown) < fieldWidth {
		shown = append(shown, ' ')
	}
	f.text.SetText(string(shown))
	f.text.SetStyle(style)
}

func (f *field) edit(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyCtrlU, tcell.KeyCtrlW:
		f.value = f.value[:0]
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if len(f.value) > 0 {
			f.value = f.value[:len(f.value)-1]
		}
	case tcell.KeyRune:
		if len(f.value) < 256 {
			f.value = append(f.value, ev.Rune())
		}
	default:
		return false
	}
	return true
}

// AuthPanel asks for the admin API credentials, when the server
// refuses us without them.
type AuthPanel struct {
	user     *field
	pass     *field
	passMode bool

	Panel
}

func NewAuthPanel(app *App) *AuthPanel {
	p := &AuthPanel{user: newField(), pass: newField()}
	p.pass.secret = true
	p.Panel.Init(app)

	prompt := func(s string) *views.Text {
		t := views.NewText()
		t.SetText(s)
		t.SetStyle(StyleNormal)
		return t
	}
	column := func(a, b views.Widget) *views.BoxLayout {
		l := views.NewBoxLayout(views.Vertical)
		l.SetStyle(StyleNormal)
		l.AddWidget(views.NewSpacer(), 1.0)
		l.AddWidget(a, 0.0)
		l.AddWidget(b, 0.0)
		l.AddWidget(views.NewSpacer(), 1.0)
		return l
	}

	layout := views.NewBoxLayout(views.Horizontal)
	layout.SetStyle(StyleNormal)
	layout.AddWidget(views.NewSpacer(), 1.0)
	layout.AddWidget(column(prompt("Username: "), prompt("Password: ")), 0.0)
	layout.AddWidget(column(p.user.text, p.pass.text), 0.0)
	layout.AddWidget(views.NewSpacer(), 1.0)

	p.SetServer(app.GetServer())
	p.SetTitle("Login")
	p.SetStatus("Authentication Required")
	p.SetKeys([]string{"[ESC] Quit", "[TAB] Next", "[ENTER] Login"})
	p.SetContent(layout)
	p.update()

	return p
}

func (p *AuthPanel) ResetFields() {
	p.passMode = false
	p.user.value = p.user.value[:0]
	p.pass.value = p.pass.value[:0]
}

func (p *AuthPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *AuthPanel) HandleEvent(ev tcell.Event) bool {
	if ev, ok := ev.(*tcell.EventKey); ok {
		switch ev.Key() {
		case tcell.KeyEsc:
			p.App().Quit()
			return true
		case tcell.KeyTab, tcell.KeyEnter:
			if p.passMode {
				p.App().SetUserPassword(string(p.user.value),
					string(p.pass.value))
				p.App().ShowMain()
			} else {
				p.passMode = true
			}
			return true
		case tcell.KeyBacktab:
			p.passMode = false
			return true
		}
		f := p.user
		if p.passMode {
			f = p.pass
		}
		if f.edit(ev) {
			return true
		}
	}
	return p.Panel.HandleEvent(ev)
}

// update must be called on the application goroutine.
func (p *AuthPanel) update() {
	p.SetLevel(LevelError)
	p.user.render(!p.passMode)
	p.pass.render(p.passMode)
}
