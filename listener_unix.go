//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

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

	"golang.org/x/sys/unix"
)

// checkListening verifies that fd is a socket in the listening state.
func checkListening(fd int) error {
	v, e := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ACCEPTCONN)
	if e != nil {
		return fmt.Errorf("descriptor %d: %w (%v)", fd, ErrNotListening, e)
	}
	if v == 0 {
		return fmt.Errorf("descriptor %d: %w", fd, ErrNotListening)
	}
	return nil
}
