package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joshp123/apsystems-local/internal/config"
	"github.com/joshp123/apsystems-local/internal/core"
	"github.com/joshp123/apsystems-local/internal/rpc"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	addr := resolveAddr()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	conn, err := grpcurl.BlockingDial(ctx, "tcp", addr, insecure.NewCredentials())
	if err != nil {
		fatal("dial", err)
	}
	defer conn.Close()

	switch os.Args[1] {
	case "entries":
		entriesCmd(ctx, conn, os.Args[2:])
	case "snapshot", "refresh", "info", "entities", "max-power", "power":
		deviceCmd(ctx, conn, os.Args[1], os.Args[2:])
	case "services":
		servicesCmd(ctx, conn)
	case "methods":
		methodsCmd(ctx, conn, os.Args[2:])
	case "call":
		callCmd(ctx, conn, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func entriesCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "list":
		resp, err := rpc.Invoke(ctx, conn, core.RegistryRPC, "ListEntries", map[string]any{})
		if err != nil {
			fatal("list entries", err)
		}
		for _, v := range resp.GetFields()["entries"].GetListValue().GetValues() {
			e := v.GetStructValue().GetFields()
			fmt.Printf("%s\t%s\t%s\t%s\n",
				e["entry_id"].GetStringValue(),
				e["display_name"].GetStringValue(),
				e["version"].GetStringValue(),
				e["status"].GetStringValue())
		}
	case "describe":
		if len(args) < 2 {
			fatal("describe", fmt.Errorf("missing entry id"))
		}
		resp, err := rpc.Invoke(ctx, conn, core.RegistryRPC, "DescribeEntry", map[string]any{"entry_id": args[1]})
		if err != nil {
			fatal("describe entry", err)
		}
		entry := resp.GetFields()["entry"].GetStructValue()
		if entry == nil {
			fmt.Println("not found")
			return
		}
		f := entry.GetFields()
		fmt.Printf("id: %s\n", f["entry_id"].GetStringValue())
		fmt.Printf("name: %s\n", f["display_name"].GetStringValue())
		fmt.Printf("version: %s\n", f["version"].GetStringValue())
		fmt.Printf("status: %s\n", f["status"].GetStringValue())
		if msg := f["health_message"].GetStringValue(); msg != "" {
			fmt.Printf("health: %s\n", msg)
		}
		fmt.Println("services:")
		for _, svc := range f["services"].GetListValue().GetValues() {
			fmt.Printf("  - %s\n", svc.GetStringValue())
		}
		fmt.Println("dashboards:")
		for _, d := range f["dashboards"].GetListValue().GetValues() {
			dash := d.GetStructValue().GetFields()
			fmt.Printf("  - %s (%s)\n", dash["name"].GetStringValue(), dash["path"].GetStringValue())
		}
		fmt.Println("agents_md:")
		fmt.Println(f["agents_md"].GetStringValue())
	default:
		usage()
		os.Exit(2)
	}
}

func servicesCmd(ctx context.Context, conn *grpc.ClientConn) {
	descSource := reflectionSource(ctx, conn)
	services, err := grpcurl.ListServices(descSource)
	if err != nil {
		fatal("list services", err)
	}

	for _, service := range services {
		fmt.Println(service)
	}
}

func methodsCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) < 1 {
		fatal("methods", fmt.Errorf("missing service name"))
	}

	descSource := reflectionSource(ctx, conn)
	methods, err := grpcurl.ListMethods(descSource, args[0])
	if err != nil {
		fatal("list methods", err)
	}

	for _, method := range methods {
		fmt.Println(method)
	}
}

func callCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	flags := flag.NewFlagSet("call", flag.ExitOnError)
	data := flags.String("data", "", "JSON request body")
	_ = flags.Parse(args)
	remaining := flags.Args()
	if len(remaining) < 1 {
		fatal("call", fmt.Errorf("missing method (service/method)"))
	}

	method := remaining[0]
	descSource := reflectionSource(ctx, conn)

	var reader io.Reader
	if *data != "" {
		reader = strings.NewReader(*data)
	} else if isStdinTerminal() {
		reader = strings.NewReader("{}")
	} else {
		reader = os.Stdin
	}

	parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, descSource, reader, grpcurl.FormatOptions{})
	if err != nil {
		fatal("parse request", err)
	}

	handler := grpcurl.NewDefaultEventHandler(os.Stdout, descSource, formatter, false)
	if err := grpcurl.InvokeRPC(ctx, descSource, conn, method, nil, handler, parser.Next); err != nil {
		fatal("invoke", err)
	}
	if handler.Status != nil && handler.Status.Err() != nil {
		fatal("invoke", handler.Status.Err())
	}
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}

func isStdinTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func resolveAddr() string {
	if value := os.Getenv("APSYSTEMS_GRPC_ADDR"); value != "" {
		return value
	}
	for _, path := range configSearchPaths() {
		if addr := addrFromConfig(path); addr != "" {
			return addr
		}
	}
	return "localhost:9000"
}

func configSearchPaths() []string {
	paths := []string{config.DefaultPath}
	if value := os.Getenv("APSYSTEMS_CONFIG"); value != "" {
		paths = append([]string{value}, paths...)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "apsystems-local", "config.yaml"))
	}
	return paths
}

func addrFromConfig(path string) string {
	cfg, err := config.Load(path)
	if err != nil || cfg == nil || cfg.Core == nil {
		return ""
	}
	return dialAddr(cfg.Core.GRPCAddr)
}

// dialAddr turns a wildcard listen address into something dialable.
func dialAddr(listen string) string {
	switch {
	case strings.HasPrefix(listen, "0.0.0.0:"):
		return "localhost" + strings.TrimPrefix(listen, "0.0.0.0")
	case strings.HasPrefix(listen, ":"):
		return "localhost" + listen
	}
	return listen
}

func usage() {
	fmt.Println("apsystems-cli <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  entries list")
	fmt.Println("  entries describe <entry_id>")
	fmt.Println("  snapshot [--entry name] [--json]")
	fmt.Println("  refresh [--entry name] [--json]")
	fmt.Println("  info [--entry name] [--json]")
	fmt.Println("  entities [--entry name] [--json]")
	fmt.Println("  max-power [get | set <watts>] [--entry name] [--json]")
	fmt.Println("  power [status | on | off] [--entry name] [--json]")
	fmt.Println("  services")
	fmt.Println("  methods <service>")
	fmt.Println("  call <service/method> --data '{}' (or pipe JSON via stdin)")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
