package exitwatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newTestApp(t *testing.T, store Pinger) *App {
	s, _, m := newTestSupervisor(t, 5)
	a := &App{
		Config:     &Config{Addr: ":0"},
		Store:      store,
		Metrics:    m,
		Supervisor: s,
		Logger:     zaptest.NewLogger(t),
	}
	a.SetupServer()
	return a
}

func serve(a *App, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServerHealthAndReady(t *testing.T) {
	a := newTestApp(t, fakePinger{})
	assert.Equal(t, http.StatusOK, serve(a, "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(a, "/readyz").Code)

	down := newTestApp(t, fakePinger{err: errors.New("refused")})
	assert.Equal(t, http.StatusServiceUnavailable, serve(down, "/readyz").Code)
}

func TestServerStatusListsMonitors(t *testing.T) {
	a := newTestApp(t, fakePinger{})
	require.NoError(t, a.Supervisor.Add(&scriptedMonitor{name: "b"}, time.Second))
	require.NoError(t, a.Supervisor.Add(&scriptedMonitor{name: "a"}, time.Second))
	a.Supervisor.run(a.Supervisor.entries["a"])

	rec := serve(a, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Monitors, 2)
	assert.Equal(t, "a", resp.Monitors[0].Name)
	assert.False(t, resp.Monitors[0].LastSuccess.IsZero())
	assert.True(t, resp.Monitors[1].LastSuccess.IsZero())
	assert.Equal(t, "disabled", resp.Redis)
}

func TestServerMetrics(t *testing.T) {
	a := newTestApp(t, fakePinger{})
	a.Metrics.SetTracked(3)
	rec := serve(a, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_tracked_validators 3")
}
