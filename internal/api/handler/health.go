package handler

import (
	"context"
	"net/http"

	"github.com/windseeker5/minipass-env-sub001/internal/api/middleware"
	"github.com/windseeker5/minipass-env-sub001/internal/api/response"
	"github.com/windseeker5/minipass-env-sub001/internal/runtime/compose"
)

// DockerChecker reports connectivity to the Docker host.
type DockerChecker interface {
	CheckConnectivity(ctx context.Context) compose.ConnectivityStatus
}

// DBPinger reports connectivity to the registry database.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// QueueStats reports the state of the provisioning work queue.
type QueueStats interface {
	Depth() int
	Capacity() int
}

// HealthHandler handles the GET /health endpoint.
type HealthHandler struct {
	docker  DockerChecker
	db      DBPinger
	queue   QueueStats
	version string
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(docker DockerChecker, db DBPinger, queue QueueStats, version string) *HealthHandler {
	return &HealthHandler{
		docker:  docker,
		db:      db,
		queue:   queue,
		version: version,
	}
}

type dockerStatus struct {
	Connected  bool    `json:"connected"`
	APIVersion *string `json:"apiVersion"`
}

type databaseStatus struct {
	Connected bool `json:"connected"`
}

type queueStatus struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
}

type healthData struct {
	Status   string         `json:"status"`
	Version  string         `json:"version"`
	Docker   dockerStatus   `json:"docker"`
	Database databaseStatus `json:"database"`
	Queue    *queueStatus   `json:"queue,omitempty"`
}

// ServeHTTP handles the health check request. The endpoint returns 200 even
// when degraded; the status field tells operators which dependency is down.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	status := "healthy"

	connectivity := h.docker.CheckConnectivity(r.Context())
	var apiVersion *string
	if connectivity.Connected {
		apiVersion = &connectivity.APIVersion
	} else {
		status = "degraded"
	}

	dbConnected := true
	if err := h.db.Ping(r.Context()); err != nil {
		dbConnected = false
		status = "degraded"
	}

	data := healthData{
		Status:  status,
		Version: h.version,
		Docker: dockerStatus{
			Connected:  connectivity.Connected,
			APIVersion: apiVersion,
		},
		Database: databaseStatus{Connected: dbConnected},
	}
	if h.queue != nil {
		data.Queue = &queueStatus{Depth: h.queue.Depth(), Capacity: h.queue.Capacity()}
	}

	response.Success(w, http.StatusOK, data, requestID)
}
