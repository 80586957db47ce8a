package models

// Health is the body of the liveness and readiness probes.
type Health struct {
	Status  HealthStatus      `json:"status"`
	Time    Timestamp         `json:"time"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// SystemStatus reports the service and its upstream web services.
type SystemStatus struct {
	Status    HealthStatus       `json:"status"`
	Time      Timestamp          `json:"time"`
	Version   string             `json:"version"`
	BuildTime string             `json:"buildTime"`
	Upstreams []UpstreamStatus   `json:"upstreams"`
	Config    SubsetConfigStatus `json:"config"`
}

// UpstreamStatus is the circuit state of one upstream client.
type UpstreamStatus struct {
	Name                string       `json:"name"`
	Status              HealthStatus `json:"status"`
	CircuitState        string       `json:"circuitState"`
	ConsecutiveFailures uint32       `json:"consecutiveFailures"`
	LastSuccessAt       *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *Timestamp   `json:"lastFailureAt,omitempty"`
	LastError           string       `json:"lastError,omitempty"`
}

// SubsetConfigStatus exposes the effective subset tunables.
type SubsetConfigStatus struct {
	Endpoint  string `json:"endpoint"`
	ChunkSize int    `json:"chunkSize"`
}
