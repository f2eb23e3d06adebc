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

// Command hellod is an example worker for preforkd.
//
//	preforkd -w 4 -wait-ready -- hellod
//
// Every response names the worker that served it, so repeated requests
// show the kernel spreading connections across the pool.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gdamore/prefork"
	"github.com/gorilla/mux"
)

func newRouter(greeting string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s from worker %d (pid %d)\n",
			greeting, prefork.WorkerID(), os.Getpid())
	}).Methods("GET")
	r.HandleFunc("/hello/{name}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s, %s\n", greeting, mux.Vars(r)["name"])
	}).Methods("GET")
	r.HandleFunc("/sleep/{duration}", func(w http.ResponseWriter, r *http.Request) {
		d, e := time.ParseDuration(mux.Vars(r)["duration"])
		if e != nil {
			http.Error(w, e.Error(), http.StatusBadRequest)
			return
		}
		select {
		case <-time.After(d):
			fmt.Fprintf(w, "slept %v\n", d)
		case <-r.Context().Done():
		}
	}).Methods("GET")
	return r
}

func main() {
	greeting := flag.String("greeting", "Hello", "greeting to serve")
	maxConns := flag.Int("max-conns", 0, "connections per worker (0 is unlimited)")
	flag.Parse()

	if !prefork.IsWorker() {
		log.Fatal("hellod must be started by preforkd")
	}
	log.SetPrefix(fmt.Sprintf("hellod[%d] ", prefork.WorkerID()))

	h := prefork.NewHTTPHandler(newRouter(*greeting), *maxConns)
	h.Server().ReadHeaderTimeout = time.Second * 10
	log.Printf("Serving")
	if e := prefork.RunWorker(h); e != nil {
		log.Fatalf("Failed: %v", e)
	}
	log.Printf("Drained")
}
