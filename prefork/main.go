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

// Command prefork is a client for the admin API of preforkd.  It uses
// subcommands.
//
// The flags are
//
//	-a <address>	- the admin API of the supervisor, default is
//			  http://127.0.0.1:8321
//	-u <user:pass>	- user name & password for basic auth
//
// Subcommands are
//
//	info            - show information about the supervisor
//	workers         - list all workers
//	worker <slot>   - show the workers in one slot
//	log [-f]        - print the supervisor log, optionally following it
//	reload          - replace every worker, one at a time
//	top             - live terminal view (the default)
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/context"

	"github.com/gdamore/prefork"
	"github.com/gdamore/prefork/prefork/ui"
	"github.com/gdamore/prefork/prefork/util"
	"github.com/gdamore/prefork/rest"
)

var errUsage = errors.New("Usage: prefork [-a <address>] [-u <user:pass>] <subcommand>")

// Timeout for requests that do not wait for changes.
const requestTimeout = time.Second * 10

func showInfo(out io.Writer, i *prefork.Info) {
	fmt.Fprintf(out, "Name:      %s\n", i.Name)
	fmt.Fprintf(out, "ID:        %s\n", i.ID)
	fmt.Fprintf(out, "Pid:       %d\n", i.Pid)
	fmt.Fprintf(out, "Address:   %s\n", i.Addr)
	fmt.Fprintf(out, "Command:   %s\n", strings.Join(i.Command, " "))
	fmt.Fprintf(out, "Policy:    %s\n", i.Policy)
	fmt.Fprintf(out, "Workers:   %d configured, %d live, %d serving\n",
		i.Workers, i.Live, i.Serving)
	state := "running"
	if i.Draining {
		state = "draining"
	} else if i.Reloading {
		state = "reloading"
	}
	fmt.Fprintf(out, "State:     %s\n", state)
	fmt.Fprintf(out, "Up:        %s\n", util.FormatDuration(time.Since(i.CreateTime)))
}

func showWorkers(out io.Writer, ws []prefork.WorkerInfo) {
	fmt.Fprintln(out, util.Header)
	for _, w := range ws {
		fmt.Fprintln(out, util.FormatWorker(w))
	}
}

func showLog(out io.Writer, recs []prefork.LogRecord, after int64) int64 {
	for _, r := range recs {
		if r.Id > after {
			fmt.Fprintf(out, "%s %s\n", r.Time.Format(time.StampMilli), r.Text)
			after = r.Id
		}
	}
	return after
}

func followLog(ctx context.Context, out io.Writer, client *rest.Client) error {
	etag := ""
	last := int64(0)
	for {
		recs, netag, e := client.WatchLog(ctx, etag)
		if e != nil {
			return e
		}
		if netag != "" {
			etag = netag
			last = showLog(out, recs, last)
		}
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("prefork", flag.ContinueOnError)
	fs.SetOutput(out)
	addr := fs.String("a", "http://127.0.0.1:8321", "admin API address")
	auth := fs.String("u", "", "user:pass authentication")
	if e := fs.Parse(args); e != nil {
		return e
	}

	if !strings.Contains(*addr, "://") {
		*addr = "http://" + *addr
	}
	client := rest.NewClient(nil, *addr)
	if *auth != "" {
		a := strings.SplitN(*auth, ":", 2)
		if len(a) != 2 {
			return errors.New("Bad user:pass supplied")
		}
		client.SetAuth(a[0], a[1])
	}

	args = fs.Args()
	if len(args) == 0 {
		args = []string{"top"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch args[0] {
	case "info":
		if len(args) != 1 {
			return errUsage
		}
		i, e := client.Info(ctx)
		if e != nil {
			return e
		}
		showInfo(out, i)

	case "workers":
		if len(args) != 1 {
			return errUsage
		}
		ws, e := client.Workers(ctx)
		if e != nil {
			return e
		}
		showWorkers(out, ws)

	case "worker":
		if len(args) != 2 {
			return errUsage
		}
		slot, e := strconv.Atoi(args[1])
		if e != nil {
			return fmt.Errorf("bad worker slot %q", args[1])
		}
		ws, e := client.Worker(ctx, slot)
		if e != nil {
			return e
		}
		showWorkers(out, ws)

	case "log":
		switch {
		case len(args) == 2 && args[1] == "-f":
			return followLog(context.Background(), out, client)
		case len(args) != 1:
			return errUsage
		}
		recs, e := client.Log(ctx)
		if e != nil {
			return e
		}
		showLog(out, recs, 0)

	case "reload":
		if len(args) != 1 {
			return errUsage
		}
		return client.Reload(ctx)

	case "top":
		if len(args) != 1 {
			return errUsage
		}
		return doUI(client, *addr)

	default:
		return errUsage
	}
	return nil
}

func doUI(client *rest.Client, url string) error {
	app := ui.NewApp(client, url)
	return app.Run(nil)
}

func main() {
	if e := run(os.Args[1:], os.Stdout); e != nil {
		if errors.Is(e, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("Failed: %v", e)
	}
}
