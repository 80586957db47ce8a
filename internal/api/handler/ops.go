// Package handler provides the HTTP handlers of the subsetd API.
package handler

import (
	"net/http"
	"time"

	"github.com/modisviirs/subsetd/internal/api/models"
	"github.com/modisviirs/subsetd/internal/api/response"
	"github.com/modisviirs/subsetd/internal/provider/resilience"
	"github.com/modisviirs/subsetd/internal/subset"
)

// OpsHandler serves the operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	registry  *resilience.Registry
	service   *subset.Service
}

// NewOpsHandler creates an OpsHandler. registry and service may be nil.
func NewOpsHandler(version, buildTime string, registry *resilience.Registry, service *subset.Service) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		registry:  registry,
		service:   service,
	}
}

// HealthCheck handles GET /v1/ops/health. The process is live as long as it can answer.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status:  models.HealthStatusOK,
		Time:    models.Timestamp(time.Now()),
		Version: h.version,
	})
}

// ReadinessCheck handles GET /v1/ops/ready. The service is not ready while the circuit of
// any upstream is open, since every query would fail fast.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	status, details := models.HealthStatusOK, map[string]string{}
	for _, up := range h.upstreams() {
		details[up.Name] = up.CircuitState
		status = worst(status, up.Status)
	}

	code := http.StatusOK
	if status == models.HealthStatusFail {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, models.Health{
		Status:  status,
		Time:    models.Timestamp(time.Now()),
		Details: details,
	})
}

// SystemStatus handles GET /v1/ops/status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	upstreams := h.upstreams()
	status := models.HealthStatusOK
	for _, up := range upstreams {
		status = worst(status, up.Status)
	}

	body := models.SystemStatus{
		Status:    status,
		Time:      models.Timestamp(time.Now()),
		Version:   h.version,
		BuildTime: h.buildTime,
		Upstreams: upstreams,
	}
	if h.service != nil {
		body.Config = models.SubsetConfigStatus{
			Endpoint:  h.service.Endpoint(),
			ChunkSize: h.service.ChunkSize(),
		}
	}
	response.JSON(w, r, http.StatusOK, body)
}

func (h *OpsHandler) upstreams() []models.UpstreamStatus {
	upstreams := []models.UpstreamStatus{}
	if h.registry == nil {
		return upstreams
	}
	for _, health := range h.registry.All() {
		up := models.UpstreamStatus{
			Name:                health.Name,
			Status:              healthStatus(health),
			CircuitState:        health.CircuitState.String(),
			ConsecutiveFailures: health.Counts.ConsecutiveFailures,
			LastError:           health.LastError,
		}
		if health.LastSuccessAt != nil {
			up.LastSuccessAt = models.NewTimestamp(*health.LastSuccessAt)
		}
		if health.LastFailureAt != nil {
			up.LastFailureAt = models.NewTimestamp(*health.LastFailureAt)
		}
		upstreams = append(upstreams, up)
	}
	return upstreams
}

func healthStatus(h *resilience.Health) models.HealthStatus {
	switch {
	case h.IsUnhealthy():
		return models.HealthStatusFail
	case h.IsDegraded():
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}

func worst(a, b models.HealthStatus) models.HealthStatus {
	rank := map[models.HealthStatus]int{
		models.HealthStatusOK:       0,
		models.HealthStatusDegraded: 1,
		models.HealthStatusFail:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
