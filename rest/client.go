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
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gdamore/prefork"
	"golang.org/x/net/context"
)

// Client talks to the administrative interface of a supervisor.
type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	wait   int // seconds a watch may wait on the server
	client *http.Client
	lock   sync.Mutex
}

func (c *Client) SetAuth(user string, pass string) {
	c.lock.Lock()
	c.user = user
	c.pass = pass
	c.auth = true
	c.lock.Unlock()
}

func (c *Client) setAuth(req *http.Request) {
	c.lock.Lock()
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	c.lock.Unlock()
}

// SetPollTime sets how long, in seconds, the server is asked to hold a
// Watch request before answering that nothing changed.
func (c *Client) SetPollTime(secs int) {
	c.wait = secs
}

// poll issues an HTTP GET against the URL.  If etag is not empty, the
// request is conditional on the value having changed, and if wait is also
// positive, the server holds the request until it does or wait seconds
// have passed.  The return value is the new Etag; if the value did not
// change it is "", and the error is nil.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {

	req, e := http.NewRequestWithContext(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	c.setAuth(req)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}

	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", readError(res)
	}
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return "", e
	}
	if e := json.Unmarshal(body, v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

// readError turns an error response into an *Error, using the server's
// message when it sent one.
func readError(res *http.Response) error {
	e := &Error{}
	if b, err := io.ReadAll(res.Body); err == nil && json.Unmarshal(b, e) == nil && e.Message != "" {
		e.Code = res.StatusCode
		return e
	}
	return &Error{Code: res.StatusCode, Message: res.Status}
}

func (c *Client) post(ctx context.Context, url string) error {
	req, e := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(""))
	if e != nil {
		return e
	}
	req.Header.Set("Content-Type", "text/plain") // we don't really care
	c.setAuth(req)
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return readError(res)
	}
	return nil
}

// Info returns top level information about the supervisor.
func (c *Client) Info(ctx context.Context) (*prefork.Info, error) {
	info, _, e := c.WatchInfo(ctx, "")
	return info, e
}

// WatchInfo returns the supervisor information once it differs from the
// version identified by etag, along with the new Etag.  If nothing
// changed before the server gave up, the result is nil.
func (c *Client) WatchInfo(ctx context.Context, etag string) (*prefork.Info, string, error) {
	v := &prefork.Info{}
	etag, e := c.poll(ctx, c.base+"/", etag, c.wait, v)
	if e != nil || etag == "" {
		return nil, etag, e
	}
	return v, etag, nil
}

// Workers returns every worker, ordered by slot.
func (c *Client) Workers(ctx context.Context) ([]prefork.WorkerInfo, error) {
	ws, _, e := c.WatchWorkers(ctx, "")
	return ws, e
}

// WatchWorkers is like WatchInfo, for the list of workers.
func (c *Client) WatchWorkers(ctx context.Context, etag string) ([]prefork.WorkerInfo, string, error) {
	var v []prefork.WorkerInfo
	etag, e := c.poll(ctx, c.base+"/workers", etag, c.wait, &v)
	if e != nil || etag == "" {
		return nil, etag, e
	}
	return v, etag, nil
}

// Worker returns the workers in one slot.
func (c *Client) Worker(ctx context.Context, id int) ([]prefork.WorkerInfo, error) {
	var v []prefork.WorkerInfo
	if _, e := c.poll(ctx, c.base+"/workers/"+strconv.Itoa(id), "", 0, &v); e != nil {
		return nil, e
	}
	return v, nil
}

// Log returns the supervisor log.
func (c *Client) Log(ctx context.Context) ([]prefork.LogRecord, error) {
	recs, _, e := c.WatchLog(ctx, "")
	return recs, e
}

// WatchLog is like WatchInfo, for the supervisor log.
func (c *Client) WatchLog(ctx context.Context, etag string) ([]prefork.LogRecord, string, error) {
	var v []prefork.LogRecord
	etag, e := c.poll(ctx, c.base+"/log", etag, c.wait, &v)
	if e != nil || etag == "" {
		return nil, etag, e
	}
	return v, etag, nil
}

// Reload asks the supervisor to replace every worker.
func (c *Client) Reload(ctx context.Context) error {
	return c.post(ctx, c.base+"/reload")
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	return &Client{
		base:   strings.TrimRight(baseURI, "/"),
		wait:   MaxPollTime,
		client: &http.Client{Transport: t},
	}
}
