package core

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/apsystems-local/internal/rpc"
)

// RegistryRPC is the entry discovery service definition.
var RegistryRPC = rpc.Service{
	Package: "apsystems.registry.v1",
	Name:    "Registry",
}

// RegistryService provides entry discovery to clients.
type RegistryService struct {
	entries []Entry
	mu      sync.RWMutex
}

func NewRegistryService(entries []Entry) *RegistryService {
	return &RegistryService{entries: entries}
}

// Register exposes ListEntries and DescribeEntry on server.
func (r *RegistryService) Register(server *grpc.Server) error {
	svc := RegistryRPC
	svc.Methods = []rpc.Method{
		{Name: "ListEntries", Handler: r.ListEntries},
		{Name: "DescribeEntry", Handler: r.DescribeEntry},
	}
	return rpc.Register(server, svc)
}

func (r *RegistryService) ListEntries(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]any, 0, len(r.entries))
	for _, e := range r.entries {
		manifest := e.Manifest()
		items = append(items, map[string]any{
			"entry_id":     manifest.EntryID,
			"display_name": manifest.DisplayName,
			"version":      manifest.Version,
			"status":       string(e.Health()),
		})
	}
	return rpc.Response(map[string]any{"entries": items})
}

func (r *RegistryService) DescribeEntry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx

	id := rpc.StringField(req, "entry_id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "entry_id is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := FindEntry(r.entries, id)
	if !ok {
		return rpc.Response(map[string]any{})
	}

	manifest := e.Manifest()
	services := make([]any, 0, len(manifest.Services))
	for _, s := range manifest.Services {
		services = append(services, s)
	}
	dashboards := make([]any, 0)
	for _, d := range e.Dashboards() {
		dashboards = append(dashboards, map[string]any{
			"name": d.Name,
			"path": DashboardPath(manifest.EntryID, d.Name),
		})
	}

	return rpc.Response(map[string]any{
		"entry": map[string]any{
			"entry_id":       manifest.EntryID,
			"display_name":   manifest.DisplayName,
			"version":        manifest.Version,
			"services":       services,
			"dashboards":     dashboards,
			"agents_md":      e.AgentsMD(),
			"status":         string(e.Health()),
			"health_message": e.HealthMessage(),
		},
	})
}
