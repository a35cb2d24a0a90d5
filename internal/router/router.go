package router

import (
	"fmt"

	"google.golang.org/grpc"

	"github.com/joshp123/apsystems-local/internal/core"
)

// RegisterServices registers the registry service and each shared device
// service on the gRPC server.
func RegisterServices(server *grpc.Server, entries []core.Entry, services ...core.GRPCRegistrant) error {
	if err := core.NewRegistryService(entries).Register(server); err != nil {
		return fmt.Errorf("register registry: %w", err)
	}
	for _, svc := range services {
		if err := svc.RegisterGRPC(server); err != nil {
			return err
		}
	}
	return nil
}
