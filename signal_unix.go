//go:build unix

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
	"os"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ParseSignal converts a signal name such as "SIGTERM" or "term" to a
// signal.
func ParseSignal(name string) (syscall.Signal, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig, nil
	}
	return 0, ErrBadSignal
}

// signalGroup delivers sig to the whole process group led by p.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	e := unix.Kill(-p.Pid, sig)
	if e == unix.ESRCH {
		return os.ErrProcessDone
	}
	return e
}
