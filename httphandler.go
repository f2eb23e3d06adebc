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
	"errors"
	"net"
	"net/http"

	"golang.org/x/net/netutil"
)

// HTTPHandler adapts an http.Handler to the Handler contract.
type HTTPHandler struct {
	srv      *http.Server
	maxConns int
}

// NewHTTPHandler returns a Handler serving h.  If maxConns is positive,
// this worker holds at most that many connections at once; the rest
// wait in the shared accept queue, where another worker may pick them up.
func NewHTTPHandler(h http.Handler, maxConns int) *HTTPHandler {
	return &HTTPHandler{
		srv:      &http.Server{Handler: h},
		maxConns: maxConns,
	}
}

// Server returns the underlying http.Server so timeouts and the like can
// be adjusted before Serve is called.
func (h *HTTPHandler) Server() *http.Server {
	return h.srv
}

func (h *HTTPHandler) Serve(l net.Listener) error {
	if h.maxConns > 0 {
		l = netutil.LimitListener(l, h.maxConns)
	}
	e := h.srv.Serve(l)
	if errors.Is(e, http.ErrServerClosed) {
		return nil
	}
	return e
}

// Drain closes the listener, so this worker stops accepting, and waits
// for active requests.  Connections still open when ctx expires are
// closed.
func (h *HTTPHandler) Drain(ctx context.Context) error {
	e := h.srv.Shutdown(ctx)
	if e != nil {
		h.srv.Close()
	}
	return e
}
