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
	"os/signal"
	"syscall"
)

// HandleSignals relays operating system signals to the supervisor's
// control loop: SIGINT and SIGTERM drain the pool (a second one kills
// what is left), and SIGHUP reloads it.  Relaying stops once the
// supervisor is done.
func (s *Supervisor) HandleSignals() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case sig := <-sigs:
				s.logf("Received %v", sig)
				if sig == syscall.SIGHUP {
					s.post(reloadEvent{})
				} else {
					s.post(stopEvent{reason: sig.String(), force: true})
				}
			case <-s.done:
				return
			}
		}
	}()
}
