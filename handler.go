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
	"net"
)

// Handler is what a worker process must implement to be driven by
// RunWorker.  The supervisor itself never sees a Handler; it only lends
// the worker a socket and sends it signals.  Handler is the worker side
// of that contract.
type Handler interface {
	// Serve accepts connections on l until Drain is called or a fatal
	// error occurs.  The listener is the socket shared by every worker
	// in the pool; Serve must not close it except as part of draining.
	// After a Drain, Serve returns nil.
	Serve(l net.Listener) error

	// Drain stops accepting new connections and waits for in-flight
	// work to finish.  When ctx expires, remaining work is abandoned
	// and ctx.Err() is returned.  Drain may be called before Serve has
	// started, in which case Serve returns immediately.
	Drain(ctx context.Context) error
}
