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

// Package ui implements "prefork top", a terminal view of a running
// supervisor, using the admin API.
package ui

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"
	"golang.org/x/net/context"

	"github.com/gdamore/prefork"
	"github.com/gdamore/prefork/rest"
)

// How long to wait before asking again after the server failed us.
var retryDelay = time.Second * 2

type App struct {
	app       *views.Application
	view      views.View
	panel     views.Widget
	info      *InfoPanel
	help      *HelpPanel
	log       *LogPanel
	main      *MainPanel
	auth      *AuthPanel
	client    *rest.Client
	server    string
	logger    *log.Logger
	err       error
	pool      *prefork.Info
	items     []prefork.WorkerInfo
	logRecs   []prefork.LogRecord
	logErr    error
	logCancel context.CancelFunc
	notice    string
	done      chan struct{}

	views.WidgetWatchers
}

func (a *App) show(w views.Widget) {
	if w != a.panel {
		a.panel.SetView(nil)
		a.panel = w
	}
	a.panel.SetView(a.view)
	a.panel.Resize()
	a.app.Refresh()
}

func (a *App) ShowHelp() {
	a.show(a.help)
}

func (a *App) ShowInfo(slot int) {
	a.info.SetSlot(slot)
	a.show(a.info)
}

func (a *App) ShowLog() {
	if a.logCancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.logCancel = cancel
		go a.refreshLog(ctx)
	}
	a.show(a.log)
}

func (a *App) ShowMain() {
	a.show(a.main)
}

func (a *App) ShowAuth() {
	a.auth.ResetFields()
	a.show(a.auth)
}

func (a *App) SetUserPassword(user, pass string) {
	a.client.SetAuth(user, pass)
	a.err = nil
}

// Reload asks the supervisor to replace its workers.  The outcome is
// shown in the status bar until the pool next changes.
func (a *App) Reload() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		e := a.client.Reload(ctx)
		a.app.PostFunc(func() {
			if e != nil {
				a.notice = "Reload failed: " + e.Error()
			} else {
				a.notice = "Reload requested"
			}
			a.app.Update()
		})
	}()
}

func (a *App) Quit() {
	/* This just posts the quit event. */
	a.app.Quit()
}

func (a *App) SetLogger(logger *log.Logger) {
	a.logger = logger
}

func (a *App) Logf(fmt string, v ...interface{}) {
	if a.logger != nil {
		a.logger.Printf(fmt, v...)
	}
}

func (a *App) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		// Intercept a few control keys up front, for global handling.
		case tcell.KeyCtrlC:
			a.Quit()
			return true
		case tcell.KeyCtrlL:
			a.app.Refresh()
			return true
		}
	}

	if a.panel != nil {
		return a.panel.HandleEvent(ev)
	}
	return false
}

func (a *App) Draw() {
	if a.panel != nil {
		a.panel.Draw()
	}
}

func (a *App) Resize() {
	if a.panel != nil {
		a.panel.Resize()
	}
}

func (a *App) SetView(view views.View) {
	a.view = view
	if a.panel != nil {
		a.panel.SetView(view)
	}
}

func (a *App) Size() (int, int) {
	if a.panel != nil {
		return a.panel.Size()
	}
	return 0, 0
}

func (a *App) GetAppName() string {
	return "prefork top"
}

func (a *App) GetServer() string {
	return a.server
}

func NewApp(client *rest.Client, server string) *App {

	app := &App{
		app:    &views.Application{},
		client: client,
		server: server,
		done:   make(chan struct{}),
	}
	app.info = NewInfoPanel(app)
	app.help = NewHelpPanel(app)
	app.log = NewLogPanel(app)
	app.main = NewMainPanel(app)
	app.auth = NewAuthPanel(app)
	app.panel = app.main
	return app
}

// setItems records the latest state of the pool.  It must run on the
// application goroutine, i.e. via PostFunc.
func (a *App) setItems(info *prefork.Info, items []prefork.WorkerInfo, e error) {
	if e == nil {
		a.pool = info
		a.items = items
		a.notice = ""
	}
	a.err = e
}

// refresh keeps the app items current, long polling the worker list.
func (a *App) refresh() {
	client := a.client
	etag := ""
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		items, netag, e := client.WatchWorkers(ctx, etag)
		var info *prefork.Info
		if e == nil && netag != "" {
			info, e = client.Info(ctx)
		}
		cancel()

		if e != nil || netag != "" {
			if e == nil {
				etag = netag
			} else {
				etag = ""
			}
			a.app.PostFunc(func() {
				a.setItems(info, items, e)
				a.app.Update()
			})
		}

		delay := time.Duration(0)
		if e != nil {
			delay = retryDelay
		}
		select {
		case <-a.done:
			return
		case <-time.After(delay):
		}
	}
}

func (a *App) refreshLog(ctx context.Context) {
	etag := ""
	for {
		recs, netag, e := a.client.WatchLog(ctx, etag)
		select {
		case <-ctx.Done():
			return
		default:
		}
		if e != nil || netag != "" {
			etag = netag
			a.app.PostFunc(func() {
				if e == nil {
					a.logRecs = recs
				}
				a.logErr = e
				a.app.Update()
			})
		}
		if e != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
		}
	}
}

// GetItems returns the workers, ordered by slot.
func (a *App) GetItems() ([]prefork.WorkerInfo, error) {
	return a.items, a.err
}

// GetPool returns the supervisor information, which may be nil before
// the first update.
func (a *App) GetPool() *prefork.Info {
	return a.pool
}

// GetSlot returns the workers in one slot.
func (a *App) GetSlot(slot int) ([]prefork.WorkerInfo, error) {
	if a.err != nil {
		return nil, a.err
	}
	var ws []prefork.WorkerInfo
	for _, w := range a.items {
		if w.Slot == slot {
			ws = append(ws, w)
		}
	}
	if ws == nil {
		return nil, errors.New("Worker not found")
	}
	return ws, nil
}

func (a *App) GetLog() ([]prefork.LogRecord, error) {
	return a.logRecs, a.logErr
}

// Notice returns a message to show in place of the normal status, if
// any.
func (a *App) Notice() string {
	return a.notice
}

// unauthorized reports whether e means that we need credentials.
func unauthorized(e error) bool {
	var re *rest.Error
	return errors.As(e, &re) && re.Code == http.StatusUnauthorized
}

// Run runs the user interface on scr until the user quits.  If scr is
// nil, the terminal is used.
func (a *App) Run(scr tcell.Screen) error {
	a.Logf("Starting up user interface")
	if scr != nil {
		a.app.SetScreen(scr)
	}
	a.app.SetRootWidget(a)
	a.ShowMain()
	go a.refresh()
	go func() {
		// Give us periodic updates, so the uptimes advance.
		for {
			select {
			case <-a.done:
				return
			case <-time.After(time.Second):
				a.app.Update()
			}
		}
	}()
	a.Logf("Starting app loop")
	e := a.app.Run()
	close(a.done)
	if a.logCancel != nil {
		a.logCancel()
	}
	return e
}
