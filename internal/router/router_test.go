package router

import (
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/apsystems-local/internal/core"
	"github.com/joshp123/apsystems-local/internal/rpc"
)

type stubEntry struct{ id string }

func (s stubEntry) ID() string                         { return s.id }
func (s stubEntry) Manifest() core.Manifest            { return core.Manifest{EntryID: s.id, DisplayName: s.id} }
func (s stubEntry) AgentsMD() string                   { return "" }
func (s stubEntry) Dashboards() []core.Dashboard       { return nil }
func (s stubEntry) Collectors() []prometheus.Collector { return nil }
func (s stubEntry) Health() core.HealthStatus          { return core.HealthHealthy }
func (s stubEntry) HealthMessage() string              { return "" }
func (s stubEntry) Start(context.Context) error        { return nil }
func (s stubEntry) Unload()                            {}

var pingRPC = rpc.Service{Package: "routertest.v1", Name: "PingService"}

type pingService struct{}

func (pingService) RegisterGRPC(server *grpc.Server) error {
	svc := pingRPC
	svc.Methods = []rpc.Method{{Name: "Ping", Handler: func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return rpc.Response(map[string]any{"pong": true})
	}}}
	return rpc.Register(server, svc)
}

func TestRegisterServices(t *testing.T) {
	lis := bufconn.Listen(1 << 16)
	server := grpc.NewServer()
	if err := RegisterServices(server, []core.Entry{stubEntry{id: "solar"}}, pingService{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	go func() { _ = server.Serve(lis) }()
	defer server.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp, err := rpc.Invoke(context.Background(), conn, core.RegistryRPC, "ListEntries", map[string]any{})
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if n := len(resp.GetFields()["entries"].GetListValue().GetValues()); n != 1 {
		t.Fatalf("expected 1 entry, got %d", n)
	}

	resp, err = rpc.Invoke(context.Background(), conn, pingRPC, "Ping", map[string]any{})
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !resp.GetFields()["pong"].GetBoolValue() {
		t.Fatalf("unexpected ping response: %v", resp)
	}
}
