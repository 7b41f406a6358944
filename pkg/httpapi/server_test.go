package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/libraz/mygram-db/pkg/cache"
	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/query"
	"github.com/libraz/mygram-db/pkg/queryexec"
	"github.com/libraz/mygram-db/pkg/server"
	"github.com/libraz/mygram-db/pkg/snapshot"
	"github.com/libraz/mygram-db/pkg/syncctl"
	"github.com/libraz/mygram-db/pkg/table"
	"github.com/libraz/mygram-db/pkg/vars"
)

func newTestDispatcher(t *testing.T) *server.Dispatcher {
	t.Helper()
	cfg := table.Config{
		Name:        "products",
		PKColumn:    "id",
		TextColumns: []string{"title"},
		Ngram:       ngram.DefaultConfig(),
		Threshold:   ngram.DefaultThreshold(),
	}
	tc := table.New(cfg, cache.Config{MaxMemoryBytes: 1 << 20})
	_, err := tc.InsertDocument("p1", "red sneakers", filter.Tuple{Columns: []string{"id"}, Values: []filter.Value{filter.StringValue("p1")}})
	require.NoError(t, err)

	tables := map[string]*table.Context{"products": tc}
	exec := queryexec.New(nil)
	reg := vars.New(vars.Defaults{APIDefaultLimit: 20, APIMaxQueryLength: 256}, nil)
	reg.SetCacheManager(tc.Cache())

	db, err := sql.Open("mysql", "root:x@tcp(127.0.0.1:1)/testdb")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	coord := syncctl.New(tables, snapshot.New(db), nil, nil)

	return server.New(context.Background(), tables, exec, reg, coord, &server.Admission{}, nil, t.TempDir(), "test", query.Options{DefaultLimit: 20})
}

func TestServerMetricsEndpoint(t *testing.T) {
	srv := New("127.0.0.1:0", newTestDispatcher(t))
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}

func TestServerLivezEndpoint(t *testing.T) {
	srv := New("127.0.0.1:0", newTestDispatcher(t))
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "alive")
}

func TestServerCommandEndpointSearch(t *testing.T) {
	srv := New("127.0.0.1:0", newTestDispatcher(t))
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader("COUNT products sneakers"))
	w := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "OK COUNT 1", w.Body.String())
}

func TestServerCommandEndpointWithoutDispatcher(t *testing.T) {
	srv := New("127.0.0.1:0", nil)
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader("COUNT products sneakers"))
	w := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServerStartAndShutdown(t *testing.T) {
	srv := New("127.0.0.1:0", newTestDispatcher(t))
	srv.Start()
	require.NoError(t, srv.Shutdown(context.Background()))
}
