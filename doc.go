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

// Package prefork launches a fixed pool of worker processes that share a
// single listening TCP socket, in the manner of a pre-forking HTTP server.
//
// The Supervisor binds the socket once, then spawns the configured number
// of workers, each inheriting the socket as descriptor 3.  The kernel
// distributes incoming connections among the workers blocked in accept;
// the supervisor never touches application traffic.  Workers may be any
// executable.  Go programs can use RunWorker and a Handler, such as the
// one returned by NewHTTPHandler, to pick up the socket, report readiness,
// and drain on SIGTERM.
//
// Each worker moves through the states Starting, Ready, Serving, Draining
// and Terminated, or ends up Crashed if it exits without being asked to.
// A crashed worker is replaced (PolicyRestart, the default, subject to a
// rate limit) or its slot is left empty (PolicyFixed).  On SIGINT or
// SIGTERM the supervisor signals every worker, waits up to the grace
// period, kills whatever is still running, and only then releases the
// socket.  SIGHUP replaces the workers one slot at a time.
//
// This package relies on POSIX process groups and descriptor passing, and
// is not useful on other platforms.
package prefork
