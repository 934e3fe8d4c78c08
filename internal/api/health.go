package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/database"
	"github.com/scribeworks/transcript-engine/internal/notify"
	"github.com/scribeworks/transcript-engine/internal/storage"
)

// HealthHandler reports service health for load balancers and operators.
type HealthHandler struct {
	db      *database.DB
	blobs   storage.BlobStore
	mqtt    *notify.Publisher
	version string
	started time.Time
	log     zerolog.Logger
}

// NewHealthHandler creates the health endpoint. mqtt may be nil when no
// broker is configured.
func NewHealthHandler(db *database.DB, blobs storage.BlobStore, mqtt *notify.Publisher, version string, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		blobs:   blobs,
		mqtt:    mqtt,
		version: version,
		started: time.Now(),
		log:     log.With().Str("handler", "health").Logger(),
	}
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks"`
}

// ServeHTTP answers with 200 when healthy, 503 when the database is
// unreachable. A disconnected MQTT broker degrades the status but does not
// fail the check.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	code := http.StatusOK

	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("database health check failed")
		checks["database"] = "unreachable"
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	checks["storage"] = h.blobs.Type()

	switch {
	case h.mqtt == nil:
		checks["mqtt"] = "not_configured"
	case h.mqtt.IsConnected():
		checks["mqtt"] = "ok"
	default:
		checks["mqtt"] = "disconnected"
		if status == "healthy" {
			status = "degraded"
		}
	}

	WriteJSON(w, code, healthResponse{
		Status:  status,
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Checks:  checks,
	})
}
