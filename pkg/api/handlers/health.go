package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/kraklabs/usenetsync/pkg/nntp"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

// HealthCheckTimeout bounds how long a readiness probe waits on the
// database before reporting unhealthy.
const HealthCheckTimeout = 5 * time.Second

// HealthHandler handles unauthenticated liveness/readiness endpoints.
type HealthHandler struct {
	engine    storage.Engine
	nntpPool  *nntp.Pool
	startedAt time.Time
}

// NewHealthHandler creates a new health handler. nntpPool may be nil, in
// which case readiness reports it as unconfigured rather than unhealthy:
// a freshly initialized daemon that hasn't loaded its server list yet is
// still "ready" in the sense that matters to a process supervisor.
func NewHealthHandler(engine storage.Engine, nntpPool *nntp.Pool) *HealthHandler {
	return &HealthHandler{engine: engine, nntpPool: nntpPool, startedAt: time.Now().UTC()}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK if the server process is running. This endpoint is designed
// for Kubernetes liveness probes and should always succeed as long as the
// HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startedAt)
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service":    "usenetsyncd",
		"started_at": h.startedAt.Format(time.RFC3339),
		"uptime":     uptime.String(),
		"uptime_sec": strconv.FormatInt(int64(uptime.Seconds()), 10),
	}))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 200 OK if the database is reachable. Returns 503 Service
// Unavailable if the storage engine is missing or the database ping fails.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("storage engine not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	sqlDB, err := h.engine.DB().DB()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("database handle unavailable: "+err.Error()))
		return
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("database unreachable: "+err.Error()))
		return
	}

	nntpStatus := "not configured"
	if h.nntpPool != nil {
		nntpStatus = "configured"
	}
	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"database": "reachable",
		"nntp":     nntpStatus,
	}))
}
