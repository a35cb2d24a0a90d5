package server

import (
	"bytes"
	"context"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/apsystems-local/internal/rpc"
)

var failingRPC = rpc.Service{Package: "servertest.v1", Name: "FailingService"}

func TestGRPCServerLogsFailuresAndStops(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	srv, err := NewGRPCServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc := failingRPC
	svc.Methods = []rpc.Method{{Name: "Get", Handler: func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.NotFound, "entry \"garage\" not configured")
	}}}
	if err := rpc.Register(srv.Server, svc); err != nil {
		t.Fatalf("register: %v", err)
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = rpc.Invoke(ctx, conn, failingRPC, "Get", map[string]any{})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if !strings.Contains(buf.String(), "grpc /servertest.v1.FailingService/Get: NotFound") {
		t.Fatalf("failure not logged: %q", buf.String())
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	srv.Stop(stopCtx)
	if err := <-served; err != nil {
		t.Fatalf("serve: %v", err)
	}
}
