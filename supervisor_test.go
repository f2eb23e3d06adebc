//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

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

// The test binary doubles as the worker executable: when started with
// PREFORK_TEST_MODE set, TestMain runs one of the worker personalities
// below instead of the tests.

package prefork

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

const testModeEnv = "PREFORK_TEST_MODE"

func TestMain(m *testing.M) {
	if mode := os.Getenv(testModeEnv); mode != "" {
		os.Exit(testWorker(mode))
	}
	os.Exit(m.Run())
}

func testWorker(mode string) int {
	switch mode {
	case "http":
	case "env":
		fmt.Printf("value=%s file=%s slot=%d\n", os.Getenv("PREFORK_TEST_VALUE"),
			os.Getenv("PREFORK_TEST_FILE"), WorkerID())
	case "crash":
		time.Sleep(time.Millisecond * 50)
		fmt.Fprintln(os.Stderr, "crashing on purpose")
		return 3
	case "stubborn":
		signal.Ignore(syscall.SIGTERM, syscall.SIGINT)
		NotifyReady()
		time.Sleep(time.Hour)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown test mode %q\n", mode)
		return 2
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/pid", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%d", os.Getpid())
	})
	mux.HandleFunc("/sleep", func(w http.ResponseWriter, r *http.Request) {
		d, _ := time.ParseDuration(r.URL.Query().Get("d"))
		time.Sleep(d)
		fmt.Fprint(w, "done")
	})
	if e := RunWorker(NewHTTPHandler(mux, 0)); e != nil {
		fmt.Fprintln(os.Stderr, e)
		return 1
	}
	return 0
}

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	tl.t.Log(strings.Trim(string(p), "\n"))
	return len(p), nil
}

type recorder struct {
	evs []Event
	mx  sync.Mutex
}

func (r *recorder) record(ev Event) {
	r.mx.Lock()
	r.evs = append(r.evs, ev)
	r.mx.Unlock()
}

func (r *recorder) count(k EventKind) int {
	r.mx.Lock()
	defer r.mx.Unlock()
	n := 0
	for _, ev := range r.evs {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

func freePort() int {
	l, e := net.Listen("tcp", "127.0.0.1:0")
	if e != nil {
		panic(e)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func portFree(port int) bool {
	l, e := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if e != nil {
		return false
	}
	l.Close()
	return true
}

func testConfig(t *testing.T, mode string, workers int) Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.Host = "127.0.0.1"
	cfg.Port = freePort()
	cfg.Workers = workers
	cfg.Command = []string{os.Args[0]}
	cfg.Env = []string{testModeEnv + "=" + mode}
	cfg.GracePeriod = time.Second * 5
	cfg.WaitReady = true
	cfg.StartTimeout = time.Second * 10
	cfg.Logger = log.New(&testLog{t: t}, "", 0)
	return cfg
}

var client = &http.Client{
	Timeout:   time.Second * 10,
	Transport: &http.Transport{DisableKeepAlives: true},
}

func get(s *Supervisor, path string) (string, error) {
	res, e := client.Get("http://" + s.Addr().String() + path)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	b, e := io.ReadAll(res.Body)
	return string(b), e
}

// waitFor waits for cond to hold, re-checking whenever a worker changes
// state.
func waitFor(s *Supervisor, d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	serial := s.Serial()
	for !cond() {
		left := time.Until(deadline)
		if left <= 0 {
			return false
		}
		serial = s.WatchSerial(serial, left)
	}
	return true
}

func countState(s *Supervisor, st WorkerState) int {
	n := 0
	for _, w := range s.Workers() {
		if w.State == st {
			n++
		}
	}
	return n
}

func slotInfo(s *Supervisor, slot int) WorkerInfo {
	for _, w := range s.Workers() {
		if w.Slot == slot && w.State.Live() {
			return w
		}
	}
	for _, w := range s.Workers() {
		if w.Slot == slot {
			return w
		}
	}
	return WorkerInfo{Slot: -1}
}

func WithSupervisor(t *testing.T, cfg Config, fn func(s *Supervisor)) func() {
	return func() {
		s, e := Start(cfg)
		So(e, ShouldBeNil)
		So(s, ShouldNotBeNil)
		Reset(func() {
			s.Shutdown()
		})
		fn(s)
	}
}

func TestBadConfig(t *testing.T) {
	Convey("Invalid configurations are rejected before binding", t, func() {
		cfg := testConfig(t, "http", 2)

		Convey("Zero workers", func() {
			cfg.Workers = 0
			s, e := Start(cfg)
			So(s, ShouldBeNil)
			var ce *ConfigError
			So(errors.As(e, &ce), ShouldBeTrue)
			So(ce.Field, ShouldEqual, "workers")
			So(errors.Is(e, ErrBadWorkerCount), ShouldBeTrue)
			So(portFree(cfg.Port), ShouldBeTrue)
		})
		Convey("Negative workers", func() {
			cfg.Workers = -3
			_, e := Start(cfg)
			So(errors.Is(e, ErrBadWorkerCount), ShouldBeTrue)
			So(portFree(cfg.Port), ShouldBeTrue)
		})
		Convey("Port out of range", func() {
			cfg.Port = 70000
			_, e := Start(cfg)
			So(errors.Is(e, ErrBadPort), ShouldBeTrue)
		})
		Convey("No command", func() {
			cfg.Command = nil
			_, e := Start(cfg)
			So(errors.Is(e, ErrNoCommand), ShouldBeTrue)
			So(portFree(cfg.Port), ShouldBeTrue)
		})
		Convey("Missing env file", func() {
			cfg.EnvFiles = []string{filepath.Join(t.TempDir(), "nosuch.env")}
			_, e := Start(cfg)
			var ce *ConfigError
			So(errors.As(e, &ce), ShouldBeTrue)
			So(portFree(cfg.Port), ShouldBeTrue)
		})
	})
}

func TestStartStop(t *testing.T) {
	cfg := testConfig(t, "http", 3)
	Convey("Start a pool of three workers", t, WithSupervisor(t, cfg, func(s *Supervisor) {
		ws := s.Workers()
		So(len(ws), ShouldEqual, 3)
		pids := map[int]bool{}
		for _, w := range ws {
			So(w.State, ShouldEqual, Serving)
			So(w.Pid, ShouldBeGreaterThan, 0)
			pids[w.Pid] = true
		}
		So(len(pids), ShouldEqual, 3)

		info := s.Info()
		So(info.Serving, ShouldEqual, 3)
		So(info.Live, ShouldEqual, 3)
		So(info.ID, ShouldEqual, s.ID())

		c := s.Config()
		So(c.Port, ShouldEqual, cfg.Port)
		So(c.Policy, ShouldEqual, PolicyRestart)
		c.Command[0] = "changed"
		So(s.Config().Command[0], ShouldEqual, os.Args[0])

		body, e := get(s, "/pid")
		So(e, ShouldBeNil)
		pid, _ := strconv.Atoi(body)
		So(pids[pid], ShouldBeTrue)

		Convey("Shutdown stops all workers and releases the port", func() {
			So(s.Shutdown(), ShouldBeNil)
			for _, w := range s.Workers() {
				So(w.State, ShouldEqual, Terminated)
				So(w.Killed, ShouldBeFalse)
			}
			So(portFree(cfg.Port), ShouldBeTrue)
			So(s.Shutdown(), ShouldBeNil)
		})
	}))
}

func TestBindConflict(t *testing.T) {
	cfg := testConfig(t, "http", 1)
	Convey("A second supervisor on the same port", t, WithSupervisor(t, cfg, func(s *Supervisor) {
		s2, e := Start(cfg)
		So(s2, ShouldBeNil)
		var be *BindError
		So(errors.As(e, &be), ShouldBeTrue)
		So(errors.Is(e, syscall.EADDRINUSE), ShouldBeTrue)

		Convey("Leaves the first one alone", func() {
			_, e := get(s, "/pid")
			So(e, ShouldBeNil)
			So(countState(s, Serving), ShouldEqual, 1)
		})
	}))
}

func TestDrainInFlight(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig(t, "http", 2)
	cfg.OnEvent = rec.record
	Convey("In-flight requests complete during drain", t, WithSupervisor(t, cfg, func(s *Supervisor) {
		results := sleepers(s, 2)

		start := time.Now()
		So(s.Shutdown(), ShouldBeNil)
		So(time.Since(start), ShouldBeLessThan, cfg.GracePeriod)
		So(<-results, ShouldEqual, "done")
		So(<-results, ShouldEqual, "done")
		So(rec.count(DrainTimeout), ShouldEqual, 0)
		So(rec.count(WorkerExited), ShouldEqual, 2)
		So(rec.count(WorkerCrash), ShouldEqual, 0)
		So(rec.count(PoolStopped), ShouldEqual, 1)
	}))
}

func TestDrainTimeout(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig(t, "stubborn", 2)
	cfg.GracePeriod = time.Millisecond * 500
	cfg.OnEvent = rec.record
	Convey("Workers ignoring SIGTERM are killed after the grace period", t, WithSupervisor(t, cfg, func(s *Supervisor) {
		start := time.Now()
		So(s.Shutdown(), ShouldBeNil)
		d := time.Since(start)
		So(d, ShouldBeGreaterThanOrEqualTo, cfg.GracePeriod)
		So(d, ShouldBeLessThan, cfg.GracePeriod+time.Second*3)
		So(rec.count(DrainTimeout), ShouldEqual, 2)
		for _, w := range s.Workers() {
			So(w.State, ShouldEqual, Terminated)
			So(w.Killed, ShouldBeTrue)
		}
		So(portFree(cfg.Port), ShouldBeTrue)
	}))
}

// sleepers starts n slow requests and waits until they are in flight.
func sleepers(s *Supervisor, n int) chan string {
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			body, e := get(s, "/sleep?d=1s")
			if e != nil {
				body = e.Error()
			}
			results <- body
		}()
	}
	time.Sleep(time.Millisecond * 300)
	return results
}

func TestStopThenShutdown(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig(t, "http", 2)
	cfg.OnEvent = rec.record
	Convey("Shutdown after Stop does not cut the drain short", t, WithSupervisor(t, cfg, func(s *Supervisor) {
		results := sleepers(s, 2)

		s.Stop("stop requested")
		So(s.Shutdown(), ShouldBeNil)
		So(s.Shutdown(), ShouldBeNil)
		So(<-results, ShouldEqual, "done")
		So(<-results, ShouldEqual, "done")
		for _, w := range s.Workers() {
			So(w.State, ShouldEqual, Terminated)
			So(w.Killed, ShouldBeFalse)
		}
		So(rec.count(WorkerExited), ShouldEqual, 2)
		So(rec.count(DrainTimeout), ShouldEqual, 0)
	}))
}

func TestSignalThenShutdown(t *testing.T) {
	cfg := testConfig(t, "http", 2)
	Convey("Shutdown after SIGTERM does not cut the drain short", t, WithSupervisor(t, cfg, func(s *Supervisor) {
		s.HandleSignals()
		results := sleepers(s, 2)

		So(syscall.Kill(os.Getpid(), syscall.SIGTERM), ShouldBeNil)
		So(waitFor(s, time.Second*5, func() bool { return s.Info().Draining }), ShouldBeTrue)
		So(s.Shutdown(), ShouldBeNil)
		So(<-results, ShouldEqual, "done")
		So(<-results, ShouldEqual, "done")
		for _, w := range s.Workers() {
			So(w.Killed, ShouldBeFalse)
		}
	}))
}

func TestForcedStop(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig(t, "stubborn", 2)
	cfg.GracePeriod = time.Minute
	cfg.OnEvent = rec.record
	Convey("A second stop request kills at once", t, func() {

		Convey("When it comes from Stop", WithSupervisor(t, cfg, func(s *Supervisor) {
			s.Stop("first")
			s.Stop("second")
			select {
			case <-s.Done():
			case <-time.After(time.Second * 10):
			}
			So(countState(s, Terminated), ShouldEqual, 2)
			for _, w := range s.Workers() {
				So(w.Killed, ShouldBeTrue)
			}
			So(rec.count(DrainTimeout), ShouldEqual, 0)
		}))

		Convey("When it is a second SIGTERM", WithSupervisor(t, cfg, func(s *Supervisor) {
			s.HandleSignals()
			So(syscall.Kill(os.Getpid(), syscall.SIGTERM), ShouldBeNil)
			So(waitFor(s, time.Second*5, func() bool { return s.Info().Draining }), ShouldBeTrue)

			Convey("But Shutdown alone does not", func() {
				done := make(chan struct{})
				go func() {
					s.Shutdown()
					close(done)
				}()
				select {
				case <-done:
				case <-time.After(time.Millisecond * 500):
				}
				So(s.Info().Live, ShouldEqual, 2)

				So(syscall.Kill(os.Getpid(), syscall.SIGTERM), ShouldBeNil)
				select {
				case <-done:
				case <-time.After(time.Second * 10):
				}
				So(countState(s, Terminated), ShouldEqual, 2)
				for _, w := range s.Workers() {
					So(w.Killed, ShouldBeTrue)
				}
			})
		}))
	})
}

func TestRestartOnCrash(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig(t, "http", 2)
	cfg.OnEvent = rec.record
	Convey("A killed worker is replaced", t, WithSupervisor(t, cfg, func(s *Supervisor) {
		victim := slotInfo(s, 0)
		So(victim.Generation, ShouldEqual, 1)
		So(syscall.Kill(victim.Pid, syscall.SIGKILL), ShouldBeNil)

		ok := waitFor(s, time.Second*10, func() bool {
			w := slotInfo(s, 0)
			return w.Generation == 2 && w.State == Serving
		})
		So(ok, ShouldBeTrue)
		So(countState(s, Serving), ShouldEqual, 2)
		So(slotInfo(s, 0).Pid, ShouldNotEqual, victim.Pid)
		So(slotInfo(s, 0).Restarts, ShouldEqual, 1)
		So(rec.count(WorkerCrash), ShouldEqual, 1)
		So(rec.count(WorkerRestart), ShouldEqual, 1)

		_, e := get(s, "/pid")
		So(e, ShouldBeNil)
	}))
}

func TestFixedPool(t *testing.T) {
	cfg := testConfig(t, "http", 2)
	cfg.Policy = PolicyFixed
	Convey("A fixed pool runs under capacity after a crash", t, WithSupervisor(t, cfg, func(s *Supervisor) {
		victim := slotInfo(s, 1)
		So(syscall.Kill(victim.Pid, syscall.SIGKILL), ShouldBeNil)

		ok := waitFor(s, time.Second*10, func() bool {
			return slotInfo(s, 1).State == Crashed
		})
		So(ok, ShouldBeTrue)
		time.Sleep(time.Millisecond * 200)
		So(slotInfo(s, 1).State, ShouldEqual, Crashed)
		So(slotInfo(s, 1).Generation, ShouldEqual, 1)
		So(s.Info().Live, ShouldEqual, 1)

		_, e := get(s, "/pid")
		So(e, ShouldBeNil)
	}))
}

func TestRateLimit(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig(t, "crash", 1)
	cfg.WaitReady = false
	cfg.RateLimit = 2
	cfg.RatePeriod = time.Minute
	cfg.OnEvent = rec.record
	Convey("A crash loop is rate limited", t, WithSupervisor(t, cfg, func(s *Supervisor) {
		ok := waitFor(s, time.Second*10, func() bool {
			return rec.count(RateLimited) > 0
		})
		So(ok, ShouldBeTrue)
		So(rec.count(WorkerCrash), ShouldEqual, 2)
		So(rec.count(WorkerRestart), ShouldEqual, 1)
		So(slotInfo(s, 0).State, ShouldEqual, Crashed)

		Convey("And shutdown does not wait for the deferred restart", func() {
			So(s.Shutdown(), ShouldBeNil)
			So(rec.count(WorkerRestart), ShouldEqual, 1)
		})
	}))
}

func TestReload(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig(t, "http", 2)
	cfg.OnEvent = rec.record
	Convey("Reload replaces every worker", t, WithSupervisor(t, cfg, func(s *Supervisor) {
		old := map[int]bool{}
		for _, w := range s.Workers() {
			old[w.Pid] = true
		}
		So(s.Reload(), ShouldBeNil)

		ok := waitFor(s, time.Second*10, func() bool {
			ws := s.Workers()
			if len(ws) != 2 {
				return false
			}
			for _, w := range ws {
				if w.Generation != 2 || w.State != Serving {
					return false
				}
			}
			return true
		})
		So(ok, ShouldBeTrue)
		for _, w := range s.Workers() {
			So(old[w.Pid], ShouldBeFalse)
		}
		So(rec.count(ReloadFinished), ShouldEqual, 1)
		So(rec.count(WorkerCrash), ShouldEqual, 0)
		So(s.Info().Reloading, ShouldBeFalse)

		_, e := get(s, "/pid")
		So(e, ShouldBeNil)
	}))
}

func TestReloadRestartBudget(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig(t, "http", 1)
	cfg.RateLimit = 2
	cfg.RatePeriod = time.Minute
	cfg.OnEvent = rec.record
	Convey("Reloads do not use up the restart budget", t, WithSupervisor(t, cfg, func(s *Supervisor) {
		for gen := int64(2); gen <= 3; gen++ {
			So(s.Reload(), ShouldBeNil)
			want := gen
			ok := waitFor(s, time.Second*10, func() bool {
				w := slotInfo(s, 0)
				return w.Generation == want && w.State == Serving && !s.Info().Reloading
			})
			So(ok, ShouldBeTrue)
		}

		victim := slotInfo(s, 0)
		So(syscall.Kill(victim.Pid, syscall.SIGKILL), ShouldBeNil)
		ok := waitFor(s, time.Second*10, func() bool {
			w := slotInfo(s, 0)
			return w.Generation == 4 && w.State == Serving
		})
		So(ok, ShouldBeTrue)
		So(rec.count(RateLimited), ShouldEqual, 0)
		So(rec.count(WorkerRestart), ShouldEqual, 1)
	}))
}

func TestSignalDrain(t *testing.T) {
	cfg := testConfig(t, "http", 2)
	Convey("SIGTERM drains the pool", t, WithSupervisor(t, cfg, func(s *Supervisor) {
		s.HandleSignals()
		So(syscall.Kill(os.Getpid(), syscall.SIGTERM), ShouldBeNil)
		select {
		case <-s.Done():
		case <-time.After(cfg.GracePeriod + time.Second*5):
		}
		So(countState(s, Terminated), ShouldEqual, 2)
		So(s.Info().Draining, ShouldBeTrue)
		So(s.Reload(), ShouldEqual, ErrNotRunning)
	}))
}

func TestWorkerEnvironment(t *testing.T) {
	out := &lockedBuffer{}
	cfg := testConfig(t, "env", 2)
	cfg.Logger = log.New(io.MultiWriter(out, &testLog{t: t}), "", 0)
	envFile := filepath.Join(t.TempDir(), "worker.env")
	os.WriteFile(envFile, []byte("PREFORK_TEST_FILE=fromfile\n"), 0o644)
	cfg.EnvFiles = []string{envFile}
	cfg.Env = append(cfg.Env, "PREFORK_TEST_VALUE=hello")
	Convey("Workers see the configured environment", t, WithSupervisor(t, cfg, func(s *Supervisor) {
		So(s.Shutdown(), ShouldBeNil)
		text := out.String()
		So(text, ShouldContainSubstring, "[test/0.1] stdout> value=hello file=fromfile slot=0")
		So(text, ShouldContainSubstring, "[test/1.1] stdout> value=hello file=fromfile slot=1")

		recs, _ := s.GetLog(0)
		So(len(recs), ShouldBeGreaterThan, 0)
	}))
}

type lockedBuffer struct {
	b  strings.Builder
	mx sync.Mutex
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mx.Lock()
	defer lb.mx.Unlock()
	return lb.b.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mx.Lock()
	defer lb.mx.Unlock()
	return lb.b.String()
}

func TestNotWorker(t *testing.T) {
	Convey("Outside a supervisor there is no inherited socket", t, func() {
		So(IsWorker(), ShouldBeFalse)
		_, e := Listener()
		So(e, ShouldEqual, ErrNoListener)
		So(NotifyReady(), ShouldBeNil)
		So(RunWorker(NewHTTPHandler(http.NotFoundHandler(), 0)), ShouldEqual, ErrNoListener)
		So(WorkerID(), ShouldEqual, -1)
	})
}
