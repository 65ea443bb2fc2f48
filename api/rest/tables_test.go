package rest_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	f := newFixture(t, "k")
	w := do(f.router, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(2), resp["tables"])
}

func TestListTables(t *testing.T) {
	f := newFixture(t, "k")
	w := do(f.router, http.MethodGet, "/api/tables", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	tables := decode(t, w)["tables"].([]interface{})
	require.Len(t, tables, 2)
	items := tables[0].(map[string]interface{})
	assert.Equal(t, "Items", items["name"])
	assert.Equal(t, float64(2), items["rows"])
}

func TestGetTable(t *testing.T) {
	f := newFixture(t, "k")
	w := do(f.router, http.MethodGet, "/api/tables/Items", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode(t, w)["rows"].([]interface{})
	require.Len(t, rows, 2)
	first := rows[0].(map[string]interface{})
	assert.Equal(t, "Items0", first["name"])
	assert.NotEmpty(t, first["Id"])

	w = do(f.router, http.MethodGet, "/api/tables/Nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRow(t *testing.T) {
	f := newFixture(t, "k")
	w := do(f.router, http.MethodGet, "/api/tables/Items/rows/1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(12), decode(t, w)["value"])

	assert.Equal(t, http.StatusNotFound, do(f.router, http.MethodGet, "/api/tables/Items/rows/5", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(f.router, http.MethodGet, "/api/tables/Items/rows/x", "", "").Code)
}

func TestPutRow_SchedulesSave(t *testing.T) {
	f := newFixture(t, "k")
	require.NoError(t, f.svc.Repo.Save())

	w := do(f.router, http.MethodPut, "/api/tables/Items/rows/0", "", `{"value": 9, "Id": "ignored"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(9), decode(t, w)["value"])
	assert.True(t, f.svc.Repo.Dirty())

	assert.Eventually(t, func() bool { return !f.svc.Repo.Dirty() }, 2*time.Second, 10*time.Millisecond)
}

func TestPutRow_Invalid(t *testing.T) {
	f := newFixture(t, "k")
	assert.Equal(t, http.StatusBadRequest,
		do(f.router, http.MethodPut, "/api/tables/Items/rows/0", "", `{"value": "nine"}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(f.router, http.MethodPut, "/api/tables/Items/rows/0", "", `{"nope": 1}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(f.router, http.MethodPut, "/api/tables/Items/rows/0", "", `{}`).Code)
	assert.Equal(t, http.StatusNotFound,
		do(f.router, http.MethodPut, "/api/tables/Nope/rows/0", "", `{"a": 1}`).Code)
}

func TestBinders_NoHub(t *testing.T) {
	f := newFixture(t, "k")
	w := do(f.router, http.MethodGet, "/api/binders", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["binders"])
}
