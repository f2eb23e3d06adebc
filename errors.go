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
	"errors"
	"fmt"
)

var (
	ErrBadWorkerCount = errors.New("Worker count must be at least 1")
	ErrBadPort        = errors.New("Port out of range")
	ErrNoCommand      = errors.New("No worker command")
	ErrBadGrace       = errors.New("Grace period must be positive")
	ErrBadSignal      = errors.New("Unknown signal")
	ErrBadRateLimit   = errors.New("Bad restart rate limit")
	ErrRateLimited    = errors.New("Restarting too quickly")
	ErrNotRunning     = errors.New("Supervisor is not running")
	ErrShutdown       = errors.New("Supervisor is shutting down")
	ErrNoListener     = errors.New("No inherited listener")
	ErrNotListening   = errors.New("Inherited descriptor is not a listening socket")
)

// ConfigError reports an invalid configuration.  It is always returned
// before any operating system resource has been created.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// BindError reports a failure to bind the listening socket.  The
// underlying error is usually a *net.OpError, so errors.Is can be used
// with syscall.EADDRINUSE or syscall.EACCES.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}
