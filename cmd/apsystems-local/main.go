package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/apsystems-local/internal/config"
	"github.com/joshp123/apsystems-local/internal/core"
	"github.com/joshp123/apsystems-local/internal/entity"
	"github.com/joshp123/apsystems-local/internal/hass"
	"github.com/joshp123/apsystems-local/internal/plugins"
	"github.com/joshp123/apsystems-local/internal/rate"
	"github.com/joshp123/apsystems-local/internal/router"
	"github.com/joshp123/apsystems-local/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", envOrDefault("APSYSTEMS_CONFIG", config.DefaultPath), "Path to config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("apsystems-local: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := entity.NewRegistry()
	build := plugins.Compiled(cfg, registry)
	entries := build.Entries
	if err := core.ValidateEntries(entries); err != nil {
		return err
	}
	if err := core.WriteDashboards(cfg.Core.DashboardDir, entries); err != nil {
		log.Printf("dashboards: %v", err)
	}

	bridge, closeBridge, err := startBridge(cfg.MQTT)
	if err != nil {
		return err
	}
	defer closeBridge()
	if bridge != nil {
		registry.AddWriter(bridge)
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	if err := router.RegisterServices(grpcServer.Server, entries, build.Services...); err != nil {
		return err
	}

	metricsRegistry := core.MetricsRegistry(entries, rate.MetricsCollectors()...)
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "apsystems_build_info",
			Help: "Build information",
		}, func() float64 { return 1 }),
	)

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, server.NewMux(server.Routes{
		Entries: entries,
		Metrics: metricsRegistry,
		States:  registry.StatesHandler(),
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("http listening on %s", cfg.Core.HTTPAddr)
		return httpServer.ListenAndServe()
	})
	g.Go(func() error {
		log.Printf("grpc listening on %s", cfg.Core.GRPCAddr)
		return grpcServer.Serve()
	})
	for _, entry := range entries {
		g.Go(func() error {
			return entry.Start(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, entry := range entries {
			entry.Unload()
		}
		grpcServer.Stop(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startBridge connects the Home Assistant MQTT bridge when configured. The
// returned close func is always safe to call.
func startBridge(cfg *config.MQTTConfig) (*hass.Bridge, func(), error) {
	if cfg == nil {
		return nil, func() {}, nil
	}
	username, err := config.ReadSecretFile(cfg.UsernameFile)
	if err != nil {
		return nil, nil, fmt.Errorf("mqtt username: %w", err)
	}
	password, err := config.ReadSecretFile(cfg.PasswordFile)
	if err != nil {
		return nil, nil, fmt.Errorf("mqtt password: %w", err)
	}

	opts := hass.Options{DiscoveryPrefix: cfg.DiscoveryPrefix, BaseTopic: cfg.BaseTopic}
	var bridge *hass.Bridge
	ready := make(chan struct{})
	client, err := hass.Dial(hass.ClientOptions{
		Broker:      cfg.Broker,
		Username:    username,
		Password:    password,
		WillTopic:   opts.StatusTopic(),
		WillPayload: "offline",
		OnConnect: func() {
			<-ready
			bridge.Online()
		},
	})
	if err != nil {
		return nil, nil, err
	}
	bridge = hass.NewBridge(client, opts)
	close(ready)
	return bridge, func() {
		bridge.Close()
		client.Close()
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
