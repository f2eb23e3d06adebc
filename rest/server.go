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

package rest

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gdamore/prefork"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// Handler wraps a Supervisor, adding http.Handler functionality.
type Handler struct {
	s       *prefork.Supervisor
	r       *mux.Router
	user    string
	hash    []byte
	metrics http.Handler
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

// pollTime returns how long the request asks to wait for a change away
// from etag.  It is zero unless the client holds the current value.
func pollTime(r *http.Request, etag string) time.Duration {
	if r.Header.Get(PollEtagHeader) != etag {
		return 0
	}
	secs, e := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if e != nil {
		return 0
	}
	return pollSeconds(secs)
}

// notModified reports, and answers, a request whose If-None-Match
// matches etag.  Otherwise it sets the Etag header for the response.
func notModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	w.Header().Set("Etag", etag)
	return false
}

func (h *Handler) watchSerial(r *http.Request) int64 {
	serial := h.s.Serial()
	if d := pollTime(r, etagOf(serial)); d > 0 {
		serial = h.s.WatchSerial(serial, d)
	}
	return serial
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	h.watchSerial(r)
	info := h.s.Info()
	if notModified(w, r, etagOf(info.Serial)) {
		return
	}
	h.writeJson(w, info)
}

func (h *Handler) listWorkers(w http.ResponseWriter, r *http.Request) {
	serial := h.watchSerial(r)
	if notModified(w, r, etagOf(serial)) {
		return
	}
	h.writeJson(w, h.s.Workers())
}

// getWorker returns the workers occupying one slot: normally just one,
// but during a reload the replacement and retired workers as well.
func (h *Handler) getWorker(w http.ResponseWriter, r *http.Request) {
	id, e := strconv.Atoi(mux.Vars(r)["id"])
	if e != nil {
		h.writeError(w, &Error{http.StatusBadRequest, "Bad worker id"})
		return
	}
	serial := h.watchSerial(r)
	ws := []prefork.WorkerInfo{}
	for _, wi := range h.s.Workers() {
		if wi.Slot == id {
			ws = append(ws, wi)
		}
	}
	if len(ws) == 0 {
		h.writeError(w, &Error{http.StatusNotFound, "Worker not found"})
		return
	}
	if notModified(w, r, etagOf(serial)) {
		return
	}
	h.writeJson(w, ws)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	_, id := h.s.GetLog(-1)
	if d := pollTime(r, etagOf(id)); d > 0 {
		h.s.WatchLog(id, d)
	}
	recs, id := h.s.GetLog(-1)
	if notModified(w, r, etagOf(id)) {
		return
	}
	if recs == nil {
		recs = []prefork.LogRecord{}
	}
	h.writeJson(w, recs)
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	switch e := h.s.Reload(); {
	case e == nil:
		h.writeJson(w, ok)
	case errors.Is(e, prefork.ErrShutdown), errors.Is(e, prefork.ErrNotRunning):
		h.writeError(w, &Error{http.StatusConflict, e.Error()})
	default:
		h.writeError(w, &Error{http.StatusInternalServerError, e.Error()})
	}
}

func (h *Handler) getMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		h.writeError(w, &Error{http.StatusNotFound, "Metrics not enabled"})
		return
	}
	h.metrics.ServeHTTP(w, r)
}

// authenticate is middleware requiring HTTP basic auth, when a password
// hash has been configured.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.hash != nil {
			user, pass, found := r.BasicAuth()
			if !found ||
				subtle.ConstantTimeCompare([]byte(user), []byte(h.user)) != 1 ||
				bcrypt.CompareHashAndPassword(h.hash, []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="prefork"`)
				h.writeError(w, &Error{http.StatusUnauthorized, "Unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// SetAuth requires requests to authenticate as user, with a password
// matching the bcrypt hash.  An empty hash disables authentication.
func (h *Handler) SetAuth(user string, hash string) {
	h.user = user
	h.hash = nil
	if hash != "" {
		h.hash = []byte(hash)
	}
}

// SetMetrics exposes m at /metrics.
func (h *Handler) SetMetrics(m *prefork.Metrics) {
	h.metrics = nil
	if m != nil {
		h.metrics = m.Handler()
	}
}

func NewHandler(s *prefork.Supervisor) *Handler {
	r := mux.NewRouter()
	h := &Handler{s: s, r: r}
	r.Use(h.authenticate)
	r.HandleFunc("/", h.getInfo).Methods("GET")
	r.HandleFunc("/workers", h.listWorkers).Methods("GET")
	r.HandleFunc("/workers/{id:[0-9]+}", h.getWorker).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/reload", h.reload).Methods("POST")
	r.HandleFunc("/metrics", h.getMetrics).Methods("GET")
	return h
}
