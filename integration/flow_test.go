package integration

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/kasuganosora/gamedb/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthAndTables(t *testing.T) {
	ts := NewTestServer(t)

	resp := ts.Get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]interface{}
	ReadJSON(t, resp, &health)
	assert.Equal(t, "ok", health["status"])

	var tables struct {
		Tables []struct {
			Name string `json:"name"`
			Rows int    `json:"rows"`
		} `json:"tables"`
	}
	ReadJSON(t, ts.Get(t, "/api/tables"), &tables)
	require.Len(t, tables.Tables, 2)
	assert.Equal(t, "Items", tables.Tables[0].Name)
	assert.Equal(t, 2, tables.Tables[0].Rows)
}

func TestEditRow_UpdatesBinderAndSaves(t *testing.T) {
	ts := NewTestServer(t)
	sse := ts.ConnectSSE(t)

	resp := ts.Put(t, "/api/tables/Items/rows/0", map[string]interface{}{"value": 42})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	ev, ok := sse.WaitFor(5*time.Second, func(ev Event) bool {
		return ev.Name == "binder" && strings.Contains(ev.Data, "Items0=42")
	})
	require.True(t, ok, "binder update not streamed")
	assert.Contains(t, ev.Data, `"binder":"first"`)

	var binders struct {
		Binders map[string]string `json:"binders"`
	}
	ReadJSON(t, ts.Get(t, "/api/binders"), &binders)
	assert.Equal(t, "Items0=42", binders.Binders["first"])

	// The debounced save writes the asset.
	require.Eventually(t, func() bool { return !ts.App.Repo.Dirty() }, 5*time.Second, 20*time.Millisecond)
	r, err := repo.Open(ts.App.Repo.Path(), nil)
	require.NoError(t, err)
	n, err := r.Meta("Items").Entity(0).GetInt("value")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestAdminFlow(t *testing.T) {
	ts := NewTestServer(t)

	// No key, no access.
	resp := ts.Get(t, "/api/admin/journal")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = ts.AdminPost(t, "/api/admin/simulate")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report struct {
		TraceID string            `json:"trace_id"`
		Saved   bool              `json:"saved"`
		Binders map[string]string `json:"binders"`
	}
	ReadJSON(t, resp, &report)
	assert.True(t, report.Saved)
	assert.Contains(t, report.Binders["first"], "Items0=")

	var last map[string]string
	ReadJSON(t, ts.AdminGet(t, "/api/admin/sim/last"), &last)
	assert.Equal(t, report.TraceID, last["trace_id"])

	resp = ts.AdminPost(t, "/api/admin/export")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = ts.AdminPost(t, "/api/admin/import")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 4, ts.App.Repo.Meta("Items").CountEntities())

	// Flush the journal and read it back.
	ts.App.Journal.Stop(t.Context())
	var journal struct {
		Count   int `json:"count"`
		Entries []struct {
			Action  string `json:"action"`
			TraceID string `json:"trace_id"`
		} `json:"entries"`
	}
	ReadJSON(t, ts.AdminGet(t, "/api/admin/journal"), &journal)
	actions := make([]string, 0, journal.Count)
	for _, e := range journal.Entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"import", "export", "simulate"}, actions)
}

func TestTraceIDReachesJournal(t *testing.T) {
	ts := NewTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/admin/save", nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Key", AdminKey)
	req.Header.Set("X-Trace-ID", "trace-save-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	ts.App.Journal.Stop(t.Context())
	var journal struct {
		Entries []struct {
			TraceID string `json:"trace_id"`
		} `json:"entries"`
	}
	ReadJSON(t, ts.AdminGet(t, "/api/admin/journal?action=save"), &journal)
	require.Len(t, journal.Entries, 1)
	assert.Equal(t, "trace-save-1", journal.Entries[0].TraceID)
}
