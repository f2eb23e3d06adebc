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

// Command preforkd binds a listening socket and runs a pool of worker
// processes that accept connections on it.
//
//	preforkd [flags] -- command [args...]
//
// The worker finds the socket on the descriptor named by
// PREFORK_LISTEN_FD.  SIGINT or SIGTERM drains the pool, a second one
// kills it, and SIGHUP replaces every worker with a fresh one.
//
// Exit status is 0 after a clean shutdown, 2 for an invalid
// configuration, 3 if the socket could not be bound, and 1 otherwise.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/gdamore/prefork"
	"github.com/gdamore/prefork/rest"
)

const (
	exitOK     = 0
	exitFail   = 1
	exitConfig = 2
	exitBind   = 3
)

// stringList is a repeatable flag.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// onStart is called once the pool is running.
var onStart = func(s *prefork.Supervisor) {}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// configure builds the configuration from the command line.  A config
// file named by -c supplies the base; flags given explicitly override
// it, and a command after the flags replaces the configured one.
func configure(args []string, stderr io.Writer) (prefork.Config, error) {
	fs := flag.NewFlagSet("preforkd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: preforkd [flags] -- command [args...]\n")
		fs.PrintDefaults()
	}

	var envFiles stringList
	cfgFile := fs.String("c", "", "configuration file (YAML)")
	name := fs.String("n", "preforkd", "name used in logs")
	host := fs.String("b", prefork.DefaultHost, "bind host")
	port := fs.Int("p", prefork.DefaultPort, "bind port")
	workers := fs.Int("w", prefork.DefaultWorkers, "number of worker processes")
	grace := fs.Duration("g", prefork.DefaultGracePeriod, "drain grace period")
	restart := fs.Bool("restart", true, "restart workers that crash")
	waitReady := fs.Bool("wait-ready", false, "wait for workers to report readiness")
	stopSig := fs.String("s", prefork.DefaultStopSignal, "signal that asks a worker to drain")
	dir := fs.String("d", "", "working directory for workers")
	admin := fs.String("a", "", "admin API listen address (empty disables)")
	adminUser := fs.String("admin-user", "", "admin API user")
	adminHash := fs.String("admin-hash", "", "bcrypt hash of the admin API password")
	fs.Var(&envFiles, "env-file", "file of KEY=VALUE lines for workers (repeatable)")

	if e := fs.Parse(args); e != nil {
		return prefork.Config{}, &prefork.ConfigError{Field: "flags", Err: e}
	}

	cfg := prefork.DefaultConfig()
	if *cfgFile != "" {
		var e error
		if cfg, e = prefork.LoadConfig(*cfgFile); e != nil {
			return cfg, &prefork.ConfigError{Field: "config", Err: e}
		}
	} else {
		cfg.Name = *name
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n":
			cfg.Name = *name
		case "b":
			cfg.Host = *host
		case "p":
			cfg.Port = *port
		case "w":
			cfg.Workers = *workers
		case "g":
			cfg.GracePeriod = *grace
		case "restart":
			cfg.Policy = prefork.PolicyFixed
			if *restart {
				cfg.Policy = prefork.PolicyRestart
			}
		case "wait-ready":
			cfg.WaitReady = *waitReady
		case "s":
			cfg.StopSignal = *stopSig
		case "d":
			cfg.Dir = *dir
		case "a":
			cfg.Admin.Addr = *admin
		case "admin-user":
			cfg.Admin.User = *adminUser
		case "admin-hash":
			cfg.Admin.PasswordHash = *adminHash
		case "env-file":
			cfg.EnvFiles = append(cfg.EnvFiles, envFiles...)
		}
	})
	if fs.NArg() > 0 {
		cfg.Command = fs.Args()
	}
	return cfg, cfg.Validate()
}

func exitCode(e error) int {
	var ce *prefork.ConfigError
	var be *prefork.BindError
	switch {
	case e == nil:
		return exitOK
	case errors.Is(e, flag.ErrHelp):
		return exitOK
	case errors.As(e, &ce):
		return exitConfig
	case errors.As(e, &be):
		return exitBind
	}
	return exitFail
}

func run(args []string, stderr io.Writer) int {
	logger := log.New(stderr, "", log.LstdFlags)

	cfg, e := configure(args, stderr)
	if e != nil {
		if !errors.Is(e, flag.ErrHelp) {
			logger.Printf("%v", e)
		}
		return exitCode(e)
	}

	metrics := prefork.NewMetrics("")
	cfg.Logger = logger
	cfg.Metrics = metrics

	s, e := prefork.Start(cfg)
	if e != nil {
		logger.Printf("Failed to start: %v", e)
		return exitCode(e)
	}
	s.HandleSignals()

	if admin := s.Config().Admin; admin.Addr != "" {
		l, e := net.Listen("tcp", admin.Addr)
		if e != nil {
			logger.Printf("Failed to start admin API: %v", e)
			s.Shutdown()
			return exitCode(&prefork.BindError{Addr: admin.Addr, Err: e})
		}
		h := rest.NewHandler(s)
		h.SetAuth(admin.User, admin.PasswordHash)
		h.SetMetrics(metrics)
		srv := &http.Server{Handler: h}
		go srv.Serve(l)
		defer srv.Close()
		logger.Printf("Admin API on %v", l.Addr())
	}

	onStart(s)
	s.Wait()
	return exitOK
}
