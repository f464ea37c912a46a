package exitwatch

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/canopy-network/exitwatch/pkg/cache"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// StatusResponse is served on /status.
type StatusResponse struct {
	Monitors []MonitorHealth `json:"monitors"`
	Cache    CacheStats      `json:"cache"`
	Redis    string          `json:"redis"`
}

// CacheStats is a point-in-time copy of the shared cache counters.
type CacheStats struct {
	Hits       uint64 `json:"hits"`
	RemoteHits uint64 `json:"remote_hits"`
	Fetches    uint64 `json:"fetches"`
	Failures   uint64 `json:"failures"`
}

func cacheStats(c *cache.Cache) CacheStats {
	if c == nil {
		return CacheStats{}
	}
	st := c.Stats()
	return CacheStats{
		Hits:       st.Hits.Load(),
		RemoteHits: st.RemoteHits.Load(),
		Fetches:    st.Fetches.Load(),
		Failures:   st.Failures.Load(),
	}
}

// Pinger is a dependency checked on /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SetupServer sets up the HTTP server.
func (a *App) SetupServer() {
	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(a.HandleReady)).Methods("GET")
	r.Handle("/status", http.HandlerFunc(a.HandleStatus)).Methods("GET")
	r.Handle("/metrics", a.Metrics.Handler()).Methods("GET")

	a.Server = &http.Server{Addr: a.Config.Addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	a.Logger.Info("Starting server", zap.String("addr", a.Config.Addr))
}

// HandleReady is 200 when storage answers and no monitor is in restart backoff.
func (a *App) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if a.Store != nil {
		if err := a.Store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "errored", "error": "database connection error"})
			return
		}
	}
	if !a.Supervisor.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": "monitor restarting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus reports per monitor health and cache counters.
func (a *App) HandleStatus(w http.ResponseWriter, r *http.Request) {
	monitors := a.Supervisor.Health()
	sort.Slice(monitors, func(i, j int) bool { return monitors[i].Name < monitors[j].Name })

	resp := StatusResponse{Monitors: monitors, Cache: cacheStats(a.Cache), Redis: "disabled"}
	// redis is best effort, a failure degrades sharing but not readiness
	if a.RedisClient != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.Redis = "ok"
		if err := a.RedisClient.Health(ctx); err != nil {
			resp.Redis = "errored"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
