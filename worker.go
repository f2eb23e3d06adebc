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
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Descriptors as seen by the worker.  ExtraFiles start at 3.
const (
	listenFD = 3
	notifyFD = 4
)

// How long Wait keeps copying worker output after the worker itself has
// exited, in case a grandchild still holds the pipes.
const outputWaitDelay = time.Second

// WorkerInfo is a snapshot of one worker.
type WorkerInfo struct {
	Slot       int         `json:"slot"`
	Generation int64       `json:"generation"`
	Pid        int         `json:"pid"`
	State      WorkerState `json:"state"`
	Since      time.Time   `json:"since"`
	Started    time.Time   `json:"started"`
	Restarts   int         `json:"restarts"`
	Killed     bool        `json:"killed"`
	Exit       string      `json:"exit,omitempty"`
}

// worker is one operating system process serving the shared socket.
// All fields are guarded by the supervisor lock, and only the control
// loop changes them.
type worker struct {
	slot    int
	gen     int64
	cmd     *exec.Cmd
	pid     int
	state   WorkerState
	since   time.Time
	started time.Time
	killed  bool
	exit    error
	logger  *log.Logger
	stdout  *lineWriter
	stderr  *lineWriter

	readyTimer *time.Timer
	graceTimer *time.Timer
}

func (w *worker) String() string {
	return fmt.Sprintf("worker %d.%d (pid %d)", w.slot, w.gen, w.pid)
}

func (w *worker) info(restarts int) WorkerInfo {
	i := WorkerInfo{
		Slot:       w.slot,
		Generation: w.gen,
		Pid:        w.pid,
		State:      w.state,
		Since:      w.since,
		Started:    w.started,
		Restarts:   restarts,
		Killed:     w.killed,
	}
	if w.exit != nil {
		i.Exit = w.exit.Error()
	}
	return i
}

// command builds the exec.Cmd for the worker.  The listening socket is
// lent as descriptor 3 and the write end of the readiness pipe as 4.
func (w *worker) command(cfg *Config, env []string, sock, notify *os.File, id string) *exec.Cmd {
	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(make([]string, 0, len(env)+6), env...)
	cmd.Env = append(cmd.Env,
		EnvListenFD+"="+strconv.Itoa(listenFD),
		EnvNotifyFD+"="+strconv.Itoa(notifyFD),
		EnvWorkerID+"="+strconv.Itoa(w.slot),
		EnvGeneration+"="+strconv.FormatInt(w.gen, 10),
		EnvGrace+"="+cfg.GracePeriod.String(),
		EnvSupervisorID+"="+id,
	)
	cmd.ExtraFiles = []*os.File{sock, notify}
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = outputWaitDelay

	w.stdout = &lineWriter{logger: w.logger, prefix: "stdout> "}
	w.stderr = &lineWriter{logger: w.logger, prefix: "stderr> "}
	cmd.Stdout = w.stdout
	cmd.Stderr = w.stderr
	return cmd
}

// signal delivers sig to the worker's process group.
func (w *worker) signal(sig syscall.Signal) {
	if w.cmd == nil || w.cmd.Process == nil {
		return
	}
	if e := signalGroup(w.cmd.Process, sig); e != nil &&
		!errors.Is(e, os.ErrProcessDone) {
		w.logger.Printf("Failed sending %v: %v", sig, e)
	}
}

func (w *worker) kill() {
	w.killed = true
	w.signal(syscall.SIGKILL)
}

func (w *worker) stopTimers() {
	if w.readyTimer != nil {
		w.readyTimer.Stop()
		w.readyTimer = nil
	}
	if w.graceTimer != nil {
		w.graceTimer.Stop()
		w.graceTimer = nil
	}
}

// lineWriter logs worker output a line at a time.  exec copies the
// output pipe into it from its own goroutine.
type lineWriter struct {
	logger *log.Logger
	prefix string
	buf    bytes.Buffer
	mx     sync.Mutex
}

func (lw *lineWriter) Write(b []byte) (int, error) {
	lw.mx.Lock()
	defer lw.mx.Unlock()
	lw.buf.Write(b)
	for {
		i := bytes.IndexByte(lw.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := lw.buf.Next(i + 1)
		lw.logger.Print(lw.prefix, string(line[:i]))
	}
	return len(b), nil
}

// flush logs any trailing partial line.
func (lw *lineWriter) flush() {
	lw.mx.Lock()
	if lw.buf.Len() > 0 {
		lw.logger.Print(lw.prefix, lw.buf.String())
		lw.buf.Reset()
	}
	lw.mx.Unlock()
}

// readNotify reads the readiness pipe, calling ready once for the
// first line.  It returns when the worker closes its end.
func readNotify(r *os.File, ready func()) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	once := false
	for sc.Scan() {
		if !once && sc.Text() == readyMessage {
			once = true
			ready()
		}
	}
}
