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
	"net"
	"os"
)

// socket is the single listening endpoint of a supervisor.  Only the
// duplicated descriptor is kept open; it is lent to every worker as
// descriptor 3, and the supervisor itself never accepts on it.
type socket struct {
	addr net.Addr
	file *os.File
}

// bind creates the listening socket.  Every failure is a *BindError.
func bind(addr string) (*socket, error) {
	l, e := net.Listen("tcp", addr)
	if e != nil {
		return nil, &BindError{Addr: addr, Err: e}
	}
	tl := l.(*net.TCPListener)
	f, e := tl.File()
	// Closing the listener leaves the socket open through f.
	tl.Close()
	if e != nil {
		return nil, &BindError{Addr: addr, Err: e}
	}
	return &socket{addr: l.Addr(), file: f}, nil
}

func (s *socket) close() error {
	return s.file.Close()
}
