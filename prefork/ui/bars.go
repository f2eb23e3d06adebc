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
	"strings"

	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"
)

var (
	barNormal = tcell.StyleDefault.
			Foreground(tcell.ColorBlack).
			Background(tcell.ColorSilver)
	barAlternate = tcell.StyleDefault.
			Foreground(tcell.ColorBlue).
			Background(tcell.ColorSilver)
)

// TitleBar shows the server on the left, the panel title in the center
// and the program name on the right.
type TitleBar struct {
	views.SimpleStyledTextBar
}

func NewTitleBar() *TitleBar {
	tb := &TitleBar{}
	tb.Init()
	tb.SetStyle(barNormal)
	for _, c := range []rune{'N', 'A'} {
		style := barNormal
		if c == 'A' {
			style = barAlternate
		}
		tb.RegisterLeftStyle(c, style)
		tb.RegisterCenterStyle(c, style)
		tb.RegisterRightStyle(c, style)
	}
	return tb
}

// Level is the health shown by a StatusBar.
type Level int

const (
	LevelNormal Level = iota
	LevelGood
	LevelWarn
	LevelError
)

var levelStyles = map[Level]tcell.Style{
	LevelNormal: barNormal,
	LevelGood: tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorGreen).
		Bold(true),
	LevelWarn: tcell.StyleDefault.
		Foreground(tcell.ColorBlack).
		Background(tcell.ColorYellow),
	LevelError: tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorMaroon).
		Bold(true),
}

// StatusBar is like a TitleBar, but its color follows the health of the
// pool, e.g. red when a worker has crashed.
type StatusBar struct {
	text  string
	level Level
	views.SimpleStyledTextBar
}

func NewStatusBar() *StatusBar {
	sb := &StatusBar{}
	sb.Init()
	sb.SetLevel(LevelNormal)
	return sb
}

func (sb *StatusBar) SetLevel(l Level) {
	sb.level = l
	style := levelStyles[l]
	sb.SetStyle(style)
	sb.RegisterLeftStyle('N', style)
	sb.SetLeft(sb.text)
}

func (sb *StatusBar) Level() Level {
	return sb.level
}

func (sb *StatusBar) SetText(text string) {
	sb.text = strings.ReplaceAll(text, "%", "%%")
	sb.SetLeft(sb.text)
}

// KeyBar lists the keys active in a panel.  The key itself, the text
// between brackets, is highlighted.
type KeyBar struct {
	views.SimpleStyledTextBar
}

func NewKeyBar() *KeyBar {
	kb := &KeyBar{}
	kb.Init()
	kb.SetStyle(barNormal)
	kb.RegisterLeftStyle('N', barNormal)
	kb.RegisterLeftStyle('A', barAlternate.Bold(true))
	return kb
}

// keyMarkup converts "[Q] Quit" style words to styled text bar markup.
func keyMarkup(words []string) string {
	var b strings.Builder
	for i, w := range words {
		if i != 0 && w != "" {
			b.WriteByte(' ')
		}
		w = strings.ReplaceAll(w, "%", "%%")
		w = strings.ReplaceAll(w, "[", "[%A")
		w = strings.ReplaceAll(w, "]", "%N]")
		b.WriteString(w)
	}
	return b.String()
}

func (kb *KeyBar) SetKeys(words []string) {
	kb.SetLeft(keyMarkup(words))
}
