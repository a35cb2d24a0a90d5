package core

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

// HealthStatus represents entry health states for registry reporting.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
)

// Dashboard is a Grafana dashboard asset embedded by the integration.
type Dashboard struct {
	Name string
	JSON []byte
}

// Manifest describes a config entry for discovery and registry metadata.
type Manifest struct {
	EntryID     string
	DisplayName string
	Version     string
	Services    []string
}

// Entry is the contract every configured device entry fulfils.
type Entry interface {
	ID() string
	Manifest() Manifest
	AgentsMD() string
	Dashboards() []Dashboard
	Collectors() []prometheus.Collector
	Health() HealthStatus
	HealthMessage() string
	// Start runs the entry's polling until ctx is done.
	Start(ctx context.Context) error
	// Unload stops the entry and removes its entities.
	Unload()
}

// GRPCRegistrant registers services shared by every entry of one kind. It is
// called once per server, not once per entry.
type GRPCRegistrant interface {
	RegisterGRPC(*grpc.Server) error
}

// HTTPRegistrant allows components to expose HTTP handlers.
type HTTPRegistrant interface {
	RegisterHTTP(*http.ServeMux)
}
