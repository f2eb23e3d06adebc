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
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Environment passed by the supervisor to every worker.
const (
	EnvListenFD     = "PREFORK_LISTEN_FD"
	EnvNotifyFD     = "PREFORK_NOTIFY_FD"
	EnvWorkerID     = "PREFORK_WORKER_ID"
	EnvGeneration   = "PREFORK_GENERATION"
	EnvGrace        = "PREFORK_GRACE"
	EnvSupervisorID = "PREFORK_SUPERVISOR_ID"
)

// Written by a worker to its notify descriptor once it is serving.
const readyMessage = "READY"

// IsWorker reports whether this process was started by a supervisor.
func IsWorker() bool {
	return os.Getenv(EnvListenFD) != ""
}

// WorkerID returns the slot this worker occupies, or -1.
func WorkerID() int {
	id, e := strconv.Atoi(os.Getenv(EnvWorkerID))
	if e != nil {
		return -1
	}
	return id
}

func envFD(name string) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return -1, ErrNoListener
	}
	fd, e := strconv.Atoi(v)
	if e != nil || fd < 0 {
		return -1, fmt.Errorf("%s=%q: bad descriptor", name, v)
	}
	return fd, nil
}

// inheritance holds the descriptors lent by the supervisor.  Each is
// taken from the environment once; after that the numbers may belong to
// something else, so they are never looked at again.
type inheritance struct {
	listenVar string
	notifyVar string

	listenOnce sync.Once
	listenFile *os.File
	listenErr  error

	notifyOnce sync.Once
	notifyErr  error
}

var inherited = &inheritance{listenVar: EnvListenFD, notifyVar: EnvNotifyFD}

func (in *inheritance) listener() (net.Listener, error) {
	in.listenOnce.Do(func() {
		fd, e := envFD(in.listenVar)
		if e == nil {
			e = checkListening(fd)
		}
		if e != nil {
			in.listenErr = e
			return
		}
		in.listenFile = os.NewFile(uintptr(fd), "prefork-listener")
	})
	if in.listenErr != nil {
		return nil, in.listenErr
	}
	return net.FileListener(in.listenFile)
}

func (in *inheritance) notifyReady() error {
	in.notifyOnce.Do(func() {
		fd, e := envFD(in.notifyVar)
		if e != nil {
			return
		}
		f := os.NewFile(uintptr(fd), "prefork-notify")
		if f == nil {
			return
		}
		defer f.Close()
		_, in.notifyErr = f.WriteString(readyMessage + "\n")
	})
	return in.notifyErr
}

// Listener returns the listening socket lent by the supervisor.  It
// fails with ErrNoListener when the process was not started by one.
// Each call returns a new net.Listener on the same socket; closing one
// leaves the others, and the socket, usable.
func Listener() (net.Listener, error) {
	return inherited.listener()
}

// NotifyReady tells the supervisor that this worker is serving.  It is
// a no-op when there is nobody to tell, and on every call after the
// first.
func NotifyReady() error {
	return inherited.notifyReady()
}

// GracePeriod returns the drain grace period configured in the
// supervisor, or DefaultGracePeriod.
func GracePeriod() time.Duration {
	if d, e := time.ParseDuration(os.Getenv(EnvGrace)); e == nil && d > 0 {
		return d
	}
	return DefaultGracePeriod
}

// RunWorker runs h on the inherited socket until the process receives
// SIGTERM or SIGINT, then drains it within the grace period.  It
// returns nil after a clean drain.
func RunWorker(h Handler) error {
	l, e := Listener()
	if e != nil {
		return e
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)

	errc := make(chan error, 1)
	go func() {
		errc <- h.Serve(l)
	}()
	if e := NotifyReady(); e != nil {
		h.Drain(context.Background())
		return fmt.Errorf("notify ready: %w", e)
	}

	select {
	case e := <-errc:
		// Serve gave up without being asked to.
		if e == nil {
			e = fmt.Errorf("handler stopped serving")
		}
		return e
	case <-sigs:
	}

	ctx, cancel := context.WithTimeout(context.Background(), GracePeriod())
	defer cancel()
	if e := h.Drain(ctx); e != nil {
		return e
	}
	return <-errc
}
