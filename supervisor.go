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
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Delay before retrying a worker whose executable could not be started.
const spawnRetryDelay = time.Second

// slot is a position in the pool.  It holds the current worker, the
// replacement being brought up during a reload, and old workers still
// draining after being replaced.
type slot struct {
	id       int
	gen      int64
	cur      *worker
	next     *worker
	retired  []*worker
	restarts int
	limit    *limiter
	retry    *time.Timer
}

func (sl *slot) workers() []*worker {
	ws := make([]*worker, 0, 2+len(sl.retired))
	if sl.cur != nil {
		ws = append(ws, sl.cur)
	}
	if sl.next != nil {
		ws = append(ws, sl.next)
	}
	return append(ws, sl.retired...)
}

// Supervisor owns a listening socket and the pool of worker processes
// accepting on it.
//
// All state changes happen on a single control loop goroutine.  Process
// exits, readiness notifications, timers and operating system signals
// are delivered to it as events, so transitions such as Serving ->
// Draining happen in a well defined order regardless of where the
// stimulus came from.
type Supervisor struct {
	cfg     Config
	id      string
	sock    *socket
	env     []string
	stopSig syscall.Signal
	logger  *log.Logger
	mlog    *MultiLogger
	log     *Log
	metrics *Metrics

	events chan interface{}
	done   chan struct{}

	mx         sync.Mutex
	slots      []*slot
	draining   bool
	forced     bool
	reloading  []int // slots still waiting to be replaced
	inReload   bool
	serial     int64
	changed    chan struct{}
	createTime time.Time
	updateTime time.Time
	pending    []Event
}

// Info is top level information about a Supervisor.
type Info struct {
	Name       string        `json:"name"`
	ID         string        `json:"id"`
	Pid        int           `json:"pid"`
	Addr       string        `json:"addr"`
	Command    []string      `json:"command"`
	Workers    int           `json:"workers"`
	Live       int           `json:"live"`
	Serving    int           `json:"serving"`
	Policy     RestartPolicy `json:"policy"`
	Draining   bool          `json:"draining"`
	Reloading  bool          `json:"reloading"`
	Serial     int64         `json:"serial,string"`
	CreateTime time.Time     `json:"created"`
	UpdateTime time.Time     `json:"updated"`
}

// Control loop events.
type (
	exitEvent struct {
		w   *worker
		err error
	}
	readyEvent        struct{ w *worker }
	readyTimeoutEvent struct{ w *worker }
	graceEvent        struct{ w *worker }
	retryEvent        struct{ sl *slot }
	stopEvent         struct {
		reason string
		force  bool // kill at once if already draining
	}
	reloadEvent       struct{}
)

// Start validates cfg, binds the listening socket, and spawns the
// worker pool.  A *ConfigError is returned, before anything is bound,
// if the configuration is invalid.  A *BindError is returned if the
// socket cannot be bound.  In either case nothing is left running.
//
// When cfg.WaitReady is set, Start waits up to cfg.StartTimeout for the
// workers to report that they are serving.  Workers that fail to do so
// are handled by the restart policy; this is not an error.
func Start(cfg Config) (*Supervisor, error) {
	cfg = cfg.clone()
	cfg.fillDefaults()
	if e := cfg.Validate(); e != nil {
		return nil, e
	}
	sig, _ := ParseSignal(cfg.StopSignal)
	env, e := cfg.Environ()
	if e != nil {
		return nil, e
	}

	s := &Supervisor{
		cfg:        cfg,
		id:         uuid.NewString(),
		env:        env,
		stopSig:    sig,
		mlog:       NewMultiLogger(),
		log:        NewLog(0),
		metrics:    cfg.Metrics,
		events:     make(chan interface{}, 16),
		done:       make(chan struct{}),
		changed:    make(chan struct{}),
		serial:     time.Now().UnixNano(),
		createTime: time.Now(),
	}
	s.updateTime = s.createTime
	if cfg.Logger != nil {
		s.mlog.AddLogger(cfg.Logger)
	} else {
		s.mlog.AddLogger(log.New(os.Stderr, "", log.LstdFlags))
	}
	s.mlog.AddLogger(log.New(s.log, "", 0))
	s.logger = s.mlog.Prefixed("[" + cfg.Name + "] ")

	if s.sock, e = bind(cfg.Addr()); e != nil {
		return nil, e
	}
	s.logf("Listening on %v (%d workers, policy %s)",
		s.sock.addr, cfg.Workers, cfg.Policy)

	s.mx.Lock()
	for i := 0; i < cfg.Workers; i++ {
		sl := &slot{id: i, limit: newLimiter(cfg.RateLimit, cfg.RatePeriod)}
		s.slots = append(s.slots, sl)
		sl.limit.record(time.Now())
		w, e := s.spawn(sl)
		if e != nil {
			s.abort()
			s.mx.Unlock()
			return nil, fmt.Errorf("start worker %d: %w", i, e)
		}
		sl.cur = w
	}
	s.mx.Unlock()
	s.dispatch()

	go s.run()

	if cfg.WaitReady {
		deadline := time.Now().Add(cfg.StartTimeout)
		for serial := s.Serial(); !s.allServing(); {
			left := time.Until(deadline)
			if left <= 0 {
				s.logf("Not all workers ready after %v", cfg.StartTimeout)
				break
			}
			serial = s.WatchSerial(serial, left)
		}
	}
	return s, nil
}

// abort undoes a failed Start.  Call with lock held, before the control
// loop runs.
func (s *Supervisor) abort() {
	for _, sl := range s.slots {
		if w := sl.cur; w != nil && w.state.Live() {
			w.kill()
		}
	}
	s.sock.close()
	s.logf("Startup aborted")
	// Nothing reads events any more; let the waiters drop theirs.
	close(s.done)
}

// spawn starts a new worker for sl.  The worker is returned even if the
// process could not be started, in which case it is already Crashed.
// Call with lock held.
func (s *Supervisor) spawn(sl *slot) (*worker, error) {
	now := time.Now()
	sl.gen++
	w := &worker{
		slot:    sl.id,
		gen:     sl.gen,
		state:   Starting,
		since:   now,
		started: now,
	}
	w.logger = s.mlog.Prefixed(fmt.Sprintf("[%s/%d.%d] ", s.cfg.Name, sl.id, sl.gen))

	r, wp, e := os.Pipe()
	if e != nil {
		s.setState(w, Crashed)
		w.exit = e
		return w, e
	}
	w.cmd = w.command(&s.cfg, s.env, s.sock.file, wp, s.id)
	e = w.cmd.Start()
	wp.Close()
	if e != nil {
		r.Close()
		w.exit = e
		s.setState(w, Crashed)
		w.logger.Printf("Failed to start: %v", e)
		return w, e
	}
	w.pid = w.cmd.Process.Pid
	s.setState(w, Ready)
	s.emit(WorkerStarted, w, nil)
	w.logger.Printf("Started pid %d", w.pid)

	go readNotify(r, func() { s.post(readyEvent{w}) })
	go func() {
		e := w.cmd.Wait()
		s.post(exitEvent{w: w, err: e})
	}()

	if s.cfg.WaitReady {
		w.readyTimer = time.AfterFunc(s.cfg.StartTimeout, func() {
			s.post(readyTimeoutEvent{w})
		})
	} else {
		s.serving(w)
	}
	return w, nil
}

// post delivers an event to the control loop.  Events posted after the
// supervisor has finished are dropped.
func (s *Supervisor) post(ev interface{}) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Supervisor) run() {
	for {
		ev := <-s.events
		s.mx.Lock()
		switch ev := ev.(type) {
		case exitEvent:
			s.exited(ev.w, ev.err)
		case readyEvent:
			s.ready(ev.w)
		case readyTimeoutEvent:
			s.readyTimeout(ev.w)
		case graceEvent:
			s.graceExpired(ev.w)
		case retryEvent:
			s.retry(ev.sl)
		case stopEvent:
			s.drain(ev.reason, ev.force)
		case reloadEvent:
			s.reload()
		}
		finished := s.draining && s.live() == 0
		if finished {
			s.finish()
		}
		s.mx.Unlock()
		s.dispatch()
		if finished {
			close(s.done)
			return
		}
	}
}

// setState records a state transition.  Call with lock held.
func (s *Supervisor) setState(w *worker, st WorkerState) {
	old := w.state
	w.state = st
	w.since = time.Now()
	s.metrics.transition(old, st)
	s.bumpSerial()
}

func (s *Supervisor) serving(w *worker) {
	if w.readyTimer != nil {
		w.readyTimer.Stop()
		w.readyTimer = nil
	}
	s.setState(w, Serving)
	s.emit(WorkerServing, w, nil)
}

func (s *Supervisor) ready(w *worker) {
	if w.state != Ready {
		return
	}
	w.logger.Printf("Serving")
	s.serving(w)
	if sl := s.slots[w.slot]; sl.next == w {
		s.promote(sl)
		s.reloadNext()
	}
}

func (s *Supervisor) readyTimeout(w *worker) {
	w.readyTimer = nil
	if w.state != Ready {
		return
	}
	w.logger.Printf("Not ready after %v, killing", s.cfg.StartTimeout)
	w.kill()
}

func (s *Supervisor) exited(w *worker, err error) {
	w.stdout.flush()
	w.stderr.flush()
	w.stopTimers()
	sl := s.slots[w.slot]

	if err == nil && w.cmd.ProcessState != nil {
		err = fmt.Errorf("exited with status %d", w.cmd.ProcessState.ExitCode())
	}
	w.exit = err

	if w.state == Draining {
		w.logger.Printf("Exited: %v", err)
		s.setState(w, Terminated)
		s.emit(WorkerExited, w, err)
		for i, x := range sl.retired {
			if x == w {
				sl.retired = append(sl.retired[:i], sl.retired[i+1:]...)
				break
			}
		}
		return
	}

	w.logger.Printf("Crashed: %v", err)
	s.setState(w, Crashed)
	s.emit(WorkerCrash, w, err)

	switch w {
	case sl.next:
		// A replacement that never came up; keep the old worker.
		sl.next = nil
		if sl.cur == nil || !sl.cur.state.Live() {
			s.restart(sl)
		}
		s.reloadNext()
	case sl.cur:
		if sl.next == nil {
			s.restart(sl)
		}
	}
}

// restart applies the restart policy to a crashed slot.
func (s *Supervisor) restart(sl *slot) {
	if s.draining || sl.retry != nil {
		return
	}
	if s.cfg.Policy != PolicyRestart {
		s.logf("Slot %d left empty (%s policy)", sl.id, s.cfg.Policy)
		return
	}
	now := time.Now()
	if until, e := sl.limit.check(now); e != nil {
		s.logf("Slot %d restarting too quickly, next attempt at %v",
			sl.id, until.Format(time.RFC3339))
		s.emitPool(RateLimited, sl.id, e)
		s.scheduleRetry(sl, until.Sub(now))
		return
	}
	sl.limit.record(now)
	sl.restarts++
	w, e := s.spawn(sl)
	sl.cur = w
	s.emit(WorkerRestart, w, e)
	if e != nil {
		s.scheduleRetry(sl, spawnRetryDelay)
	}
}

func (s *Supervisor) scheduleRetry(sl *slot, d time.Duration) {
	sl.retry = time.AfterFunc(d, func() { s.post(retryEvent{sl}) })
}

func (s *Supervisor) retry(sl *slot) {
	sl.retry = nil
	if sl.cur != nil && sl.cur.state.Live() {
		return
	}
	s.restart(sl)
}

// drain begins graceful shutdown.  A forcing request while already
// draining kills whatever is left; any other repeat is ignored.
func (s *Supervisor) drain(reason string, force bool) {
	if s.draining {
		if force && !s.forced {
			s.forced = true
			s.logf("Forced shutdown: %s", reason)
			for _, sl := range s.slots {
				for _, w := range sl.workers() {
					if w.state.Live() {
						w.stopTimers()
						w.kill()
					}
				}
			}
		}
		return
	}
	s.draining = true
	s.reloading = nil
	s.inReload = false
	s.logf("Draining: %s", reason)
	s.emitPool(DrainStarted, -1, nil)
	for _, sl := range s.slots {
		if sl.retry != nil {
			sl.retry.Stop()
			sl.retry = nil
		}
		for _, w := range sl.workers() {
			if w.state.Live() && w.state != Draining {
				s.stopWorker(w)
			}
		}
	}
	s.bumpSerial()
}

// stopWorker moves w to Draining, signals it, and arms the grace timer.
func (s *Supervisor) stopWorker(w *worker) {
	if w.readyTimer != nil {
		w.readyTimer.Stop()
		w.readyTimer = nil
	}
	s.setState(w, Draining)
	w.signal(s.stopSig)
	w.graceTimer = time.AfterFunc(s.cfg.GracePeriod, func() {
		s.post(graceEvent{w})
	})
}

func (s *Supervisor) graceExpired(w *worker) {
	w.graceTimer = nil
	if w.state != Draining {
		return
	}
	w.logger.Printf("WARNING: still running after %v grace period, killing",
		s.cfg.GracePeriod)
	w.kill()
	s.emit(DrainTimeout, w, fmt.Errorf("%v: grace period %v expired",
		w, s.cfg.GracePeriod))
}

// reload starts a rolling replacement of every slot.
func (s *Supervisor) reload() {
	if s.draining {
		return
	}
	if s.inReload {
		s.logf("Reload already in progress")
		return
	}
	s.logf("Reloading %d workers", len(s.slots))
	s.inReload = true
	s.emitPool(ReloadStarted, -1, nil)
	for _, sl := range s.slots {
		s.reloading = append(s.reloading, sl.id)
	}
	s.reloadNext()
}

// reloadNext brings up the replacement for the next slot in the reload
// queue.  Without WaitReady a replacement is serving as soon as it is
// spawned, so this may work through several slots at once.
func (s *Supervisor) reloadNext() {
	for len(s.reloading) > 0 && !s.draining {
		sl := s.slots[s.reloading[0]]
		s.reloading = s.reloading[1:]
		if sl.retry != nil {
			sl.retry.Stop()
			sl.retry = nil
		}
		w, e := s.spawn(sl)
		if e != nil {
			s.emit(WorkerCrash, w, e)
			continue
		}
		sl.next = w
		if w.state != Serving {
			// Resumed by ready, or by exited if it never comes up.
			return
		}
		s.promote(sl)
	}
	if s.inReload && !s.draining {
		s.inReload = false
		s.logf("Reload finished")
		s.emitPool(ReloadFinished, -1, nil)
	}
}

// promote makes the serving replacement current and drains the old
// worker.
func (s *Supervisor) promote(sl *slot) {
	old := sl.cur
	sl.cur = sl.next
	sl.next = nil
	if old == nil || !old.state.Live() {
		return
	}
	sl.retired = append(sl.retired, old)
	s.stopWorker(old)
}

// finish releases the socket once every worker has gone.  Call with
// lock held.
func (s *Supervisor) finish() {
	if e := s.sock.close(); e != nil {
		s.logf("Failed closing socket: %v", e)
	}
	s.logf("All workers stopped, released %v", s.sock.addr)
	s.emitPool(PoolStopped, -1, nil)
	s.bumpSerial()
}

// live counts workers that still have a process.  Call with lock held.
func (s *Supervisor) live() int {
	n := 0
	for _, sl := range s.slots {
		for _, w := range sl.workers() {
			if w.state.Live() {
				n++
			}
		}
	}
	return n
}

func (s *Supervisor) allServing() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	for _, sl := range s.slots {
		if sl.cur == nil || sl.cur.state != Serving {
			return false
		}
	}
	return true
}

func (s *Supervisor) emit(k EventKind, w *worker, err error) {
	s.pending = append(s.pending, Event{
		Kind:       k,
		Slot:       w.slot,
		Generation: w.gen,
		Pid:        w.pid,
		Time:       time.Now(),
		Err:        err,
	})
}

func (s *Supervisor) emitPool(k EventKind, slot int, err error) {
	s.pending = append(s.pending, Event{
		Kind:       k,
		Slot:       slot,
		Generation: -1,
		Time:       time.Now(),
		Err:        err,
	})
}

// dispatch hands queued events to the metrics and the OnEvent hook.  It
// runs without the lock, so the hook may call back into the supervisor.
func (s *Supervisor) dispatch() {
	s.mx.Lock()
	evs := s.pending
	s.pending = nil
	counts := s.counts()
	s.mx.Unlock()

	s.metrics.setWorkers(counts)
	for _, ev := range evs {
		s.metrics.event(ev.Kind)
		if s.cfg.OnEvent != nil {
			s.cfg.OnEvent(ev)
		}
	}
}

func (s *Supervisor) counts() map[WorkerState]int {
	m := make(map[WorkerState]int)
	for _, sl := range s.slots {
		for _, w := range sl.workers() {
			m[w.state]++
		}
	}
	return m
}

func (s *Supervisor) logf(format string, v ...interface{}) {
	s.logger.Printf(format, v...)
}

// bumpSerial increments the serial and wakes watchers.  Call with lock
// held.
func (s *Supervisor) bumpSerial() {
	s.serial++
	s.updateTime = time.Now()
	close(s.changed)
	s.changed = make(chan struct{})
}

// Serial returns a number that changes whenever any worker changes
// state.
func (s *Supervisor) Serial() int64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.serial
}

// WatchSerial waits until the serial differs from old, or expire has
// elapsed, and returns the current serial.  An expire of zero polls.
func (s *Supervisor) WatchSerial(old int64, expire time.Duration) int64 {
	s.mx.Lock()
	cur, ch := s.serial, s.changed
	s.mx.Unlock()
	if cur != old || expire <= 0 {
		return cur
	}
	t := time.NewTimer(expire)
	defer t.Stop()
	select {
	case <-ch:
	case <-t.C:
	}
	return s.Serial()
}

// Workers returns a snapshot of every worker that has a process, or that
// occupies a slot as Crashed, ordered by slot.
func (s *Supervisor) Workers() []WorkerInfo {
	s.mx.Lock()
	defer s.mx.Unlock()
	var infos []WorkerInfo
	for _, sl := range s.slots {
		for _, w := range sl.workers() {
			infos = append(infos, w.info(sl.restarts))
		}
	}
	return infos
}

// Info returns top level information about the supervisor.
func (s *Supervisor) Info() *Info {
	s.mx.Lock()
	defer s.mx.Unlock()
	i := &Info{
		Name:       s.cfg.Name,
		ID:         s.id,
		Pid:        os.Getpid(),
		Addr:       s.sock.addr.String(),
		Command:    append([]string{}, s.cfg.Command...),
		Workers:    s.cfg.Workers,
		Policy:     s.cfg.Policy,
		Draining:   s.draining,
		Reloading:  s.inReload,
		Serial:     s.serial,
		CreateTime: s.createTime,
		UpdateTime: s.updateTime,
	}
	for _, sl := range s.slots {
		for _, w := range sl.workers() {
			if w.state.Live() {
				i.Live++
			}
			if w.state == Serving {
				i.Serving++
			}
		}
	}
	return i
}

// Addr returns the address of the listening socket.
func (s *Supervisor) Addr() net.Addr {
	return s.sock.addr
}

// ID returns the unique identifier of this supervisor instance.  It is
// also passed to workers in PREFORK_SUPERVISOR_ID.
func (s *Supervisor) ID() string {
	return s.id
}

// Config returns a copy of the configuration in effect.
func (s *Supervisor) Config() Config {
	return s.cfg.clone()
}

// GetLog returns the supervisor log, see Log.Records.
func (s *Supervisor) GetLog(last int64) ([]LogRecord, int64) {
	return s.log.Records(last)
}

// WatchLog waits for the log to change, see Log.Watch.
func (s *Supervisor) WatchLog(last int64, expire time.Duration) int64 {
	return s.log.Watch(last, expire)
}

// Reload replaces every worker with a freshly started one, one slot at
// a time.  It returns immediately; progress is visible through Workers
// and the event hook.
func (s *Supervisor) Reload() error {
	select {
	case <-s.done:
		return ErrNotRunning
	default:
	}
	s.mx.Lock()
	draining := s.draining
	s.mx.Unlock()
	if draining {
		return ErrShutdown
	}
	s.post(reloadEvent{})
	return nil
}

// Stop asks the pool to drain, without waiting.  Calling it again while
// draining kills the remaining workers at once.
func (s *Supervisor) Stop(reason string) {
	s.post(stopEvent{reason: reason, force: true})
}

// Shutdown drains the pool and waits until every worker has exited and
// the socket has been released.  It is bounded by the grace period.
// Shutdown never cuts short a drain already in progress, so it may be
// called any number of times, before or after Stop.
func (s *Supervisor) Shutdown() error {
	s.post(stopEvent{reason: "shutdown requested"})
	return s.Wait()
}

// Wait blocks until the supervisor has finished shutting down.
func (s *Supervisor) Wait() error {
	<-s.done
	return nil
}

// Done returns a channel that is closed once the supervisor has
// finished shutting down.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}
