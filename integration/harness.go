package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kasuganosora/gamedb/cli"
	"github.com/kasuganosora/gamedb/resource"
	"github.com/stretchr/testify/require"
)

// AdminKey is the admin key every TestServer is configured with.
const AdminKey = "integration-admin-key"

// TestServer wraps a real HTTP server with the serve-mode wiring of the CLI.
type TestServer struct {
	App    *cli.App
	Srv    *cli.Server
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
	Dir    string

	cancel context.CancelFunc
}

const seedItems = `
fields:
  - {name: name, type: string}
  - {name: value, type: int}
rows:
  - {name: Items0, value: 5}
  - {name: Items1, value: 12}
`

const seedParams = `
fields:
  - {name: Key, type: string}
  - {name: Value, type: string}
  - {name: Type, type: string}
rows:
  - {Key: CoinMultiplier, Value: "1.5", Type: float}
`

// NewTestServer writes a config and seed tables to a temp dir, loads them
// and serves the result. It mirrors the wiring of `gamedb serve`.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed")
	require.NoError(t, os.MkdirAll(seed, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "Items.yaml"), []byte(seedItems), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "Params.yaml"), []byte(seedParams), 0644))

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
server:
  admin_key: %s
repo:
  data_path: %s
  export_path: %s
  save_delay: 20ms
  auto_save: 0s
database:
  mode: sqlite
  sqlite_path: %s
security:
  rate_limit_rps: 1000
  rate_limit_burst: 2000
simulation:
  seed: 3
binders:
  - name: first
    kind: template
    table: Items
    template: "{name}={value}"
`, AdminKey, filepath.Join(dir, "repo.json"), filepath.Join(dir, "export.json"),
		filepath.Join(dir, "journal.db"))), 0644))

	app, err := cli.NewApp(cfgPath, false, io.Discard)
	require.NoError(t, err)
	require.NoError(t, app.LoadRepo())
	_, err = resource.NewLoader(seed, app.Logger).Load(app.Repo)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := app.NewServer(ctx)
	require.NoError(t, err)

	hs := httptest.NewServer(srv.Engine)
	ts := &TestServer{App: app, Srv: srv, Server: hs, URL: hs.URL, Dir: dir, cancel: cancel}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts the server down. It is safe to call more than once.
func (ts *TestServer) Close() {
	if ts.cancel == nil {
		return
	}
	ts.cancel()
	ts.cancel = nil
	ts.Server.Close()
	ts.Srv.Stop()
	ts.App.Close()
}

// --- HTTP helpers ---

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, admin bool) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin-Key", AdminKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Get sends a GET request.
func (ts *TestServer) Get(t *testing.T, path string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, false)
}

// Put sends a PUT request with a JSON body.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPut, path, body, false)
}

// AdminGet sends a GET request carrying the admin key.
func (ts *TestServer) AdminGet(t *testing.T, path string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, true)
}

// AdminPost sends an empty POST request carrying the admin key.
func (ts *TestServer) AdminPost(t *testing.T, path string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, nil, true)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- SSE ---

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// SSEClient reads events from /sse in the background.
type SSEClient struct {
	events chan Event
	resp   *http.Response
	cancel context.CancelFunc
}

// ConnectSSE opens /sse and waits for the connected event.
func (ts *TestServer) ConnectSSE(t *testing.T) *SSEClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	sc := &SSEClient{events: make(chan Event, 64), resp: resp, cancel: cancel}
	go sc.readLoop()
	t.Cleanup(sc.Close)

	ev, ok := sc.Next(5 * time.Second)
	require.True(t, ok, "no connected event")
	require.Equal(t, "connected", ev.Name)
	return sc
}

func (sc *SSEClient) readLoop() {
	defer close(sc.events)
	s := bufio.NewScanner(sc.resp.Body)
	var ev Event
	for s.Scan() {
		line := s.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.Data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.Name != "":
			sc.events <- ev
			ev = Event{}
		}
	}
}

// Next returns the next event, or false on timeout or end of stream.
func (sc *SSEClient) Next(timeout time.Duration) (Event, bool) {
	select {
	case ev, ok := <-sc.events:
		return ev, ok
	case <-time.After(timeout):
		return Event{}, false
	}
}

// WaitFor skips events until match accepts one.
func (sc *SSEClient) WaitFor(timeout time.Duration, match func(Event) bool) (Event, bool) {
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return Event{}, false
		}
		ev, ok := sc.Next(left)
		if !ok {
			return Event{}, false
		}
		if match(ev) {
			return ev, true
		}
	}
}

func (sc *SSEClient) Close() {
	sc.cancel()
	sc.resp.Body.Close()
}
