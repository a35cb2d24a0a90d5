package apsystems

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/joshp123/apsystems-local/internal/config"
	"github.com/joshp123/apsystems-local/internal/core"
	"github.com/joshp123/apsystems-local/internal/entity"
	"github.com/prometheus/client_golang/prometheus"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

const version = "0.2.0"

// Entry is one configured EZ1-M: its client, coordinator and entities. It
// is created on setup and torn down by Unload.
type Entry struct {
	cfg      Config
	client   DeviceClient
	registry *entity.Registry

	coordinator *Coordinator
	sensors     []*Sensor
	maxPower    *MaxPower
	powerOutput *PowerOutput
	collector   *MetricsCollector
	unsubscribe []func()

	setupErr error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEntry builds an entry from a device config block. Setup failures do not
// abort startup: the entry reports HealthError with the reason instead.
func NewEntry(dev *config.DeviceConfig, registry *entity.Registry) *Entry {
	cfg, err := ConfigFromDevice(dev)
	if err != nil {
		return failedEntry(dev, err)
	}
	client, err := NewClient(cfg)
	if err != nil {
		return failedEntry(dev, err)
	}
	entry, err := NewEntryWithClient(cfg, client, registry)
	if err != nil {
		return failedEntry(dev, err)
	}
	return entry
}

// NewEntryWithClient wires the coordinator and entities around client.
func NewEntryWithClient(cfg Config, client DeviceClient, registry *entity.Registry) (*Entry, error) {
	if registry == nil {
		registry = entity.NewRegistry()
	}
	e := &Entry{cfg: cfg, client: client, registry: registry}
	e.coordinator = NewCoordinator(cfg, client)

	for _, descr := range SensorTypes {
		sensor, unsubscribe := NewSensor(e.coordinator, descr, registry.WriteState)
		e.sensors = append(e.sensors, sensor)
		e.unsubscribe = append(e.unsubscribe, unsubscribe)
	}
	e.maxPower = NewMaxPower(client, e.coordinator.Identity, registry.WriteState)
	e.powerOutput = NewPowerOutput(client, e.coordinator.Identity, registry.WriteState)
	e.collector = NewMetricsCollector(e.coordinator, e.maxPower, e.powerOutput)

	if err := registry.Add(e.Entities()...); err != nil {
		e.dropSubscriptions()
		return nil, fmt.Errorf("add entities: %w", err)
	}
	return e, nil
}

func failedEntry(dev *config.DeviceConfig, err error) *Entry {
	name := DefaultName
	if dev != nil && dev.Name != "" {
		name = dev.Name
	}
	return &Entry{cfg: Config{Name: name}, setupErr: err}
}

func (e *Entry) ID() string {
	return e.cfg.ID()
}

func (e *Entry) Manifest() core.Manifest {
	return core.Manifest{
		EntryID:     e.cfg.ID(),
		DisplayName: fmt.Sprintf("%s %s (%s)", Manufacturer, Model, e.cfg.Name),
		Version:     version,
		Services:    []string{ApsystemsRPC.FullName()},
	}
}

func (e *Entry) AgentsMD() string {
	return agentsMD
}

func (e *Entry) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "apsystems-overview", JSON: dashboardJSON}}
}

func (e *Entry) Collectors() []prometheus.Collector {
	if e.collector == nil {
		return nil
	}
	return []prometheus.Collector{e.collector}
}

func (e *Entry) Health() core.HealthStatus {
	if e.setupErr != nil {
		return core.HealthError
	}
	if e.coordinator.LastError() != nil {
		return core.HealthDegraded
	}
	return core.HealthHealthy
}

func (e *Entry) HealthMessage() string {
	if e.setupErr != nil {
		return e.setupErr.Error()
	}
	if err := e.coordinator.LastError(); err != nil {
		return err.Error()
	}
	return ""
}

// Coordinator is nil for entries that failed setup.
func (e *Entry) Coordinator() *Coordinator {
	return e.coordinator
}

func (e *Entry) Client() DeviceClient {
	return e.client
}

func (e *Entry) MaxPower() *MaxPower {
	return e.maxPower
}

func (e *Entry) PowerOutput() *PowerOutput {
	return e.powerOutput
}

// Entities lists every entity of the entry.
func (e *Entry) Entities() []entity.Entity {
	if e.setupErr != nil {
		return nil
	}
	out := make([]entity.Entity, 0, len(e.sensors)+2)
	for _, s := range e.sensors {
		out = append(out, s)
	}
	return append(out, e.maxPower, e.powerOutput)
}

func (e *Entry) pollers() []entity.Poller {
	return []entity.Poller{e.maxPower, e.powerOutput}
}

// Start runs the coordinator and the entity scan loop until ctx is done or
// Unload is called.
func (e *Entry) Start(ctx context.Context) error {
	if e.setupErr != nil {
		log.Printf("apsystems %s: setup failed: %v", e.cfg.Name, e.setupErr)
		return nil
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return fmt.Errorf("apsystems %s: already started", e.cfg.Name)
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()
	defer close(done)

	for _, ent := range e.Entities() {
		e.registry.WriteState(ent)
	}
	e.scan(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.coordinator.Run(ctx)
	}()

	ticker := time.NewTicker(ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-ticker.C:
			e.scan(ctx)
		}
	}
}

func (e *Entry) scan(ctx context.Context) {
	for _, p := range e.pollers() {
		if err := p.Update(ctx); err != nil && ctx.Err() == nil && !IsConnectivityError(err) {
			log.Printf("apsystems %s: update %s: %v", e.cfg.Name, p.UniqueID(), err)
		}
	}
}

// Unload stops polling, detaches sensors and removes the entities.
func (e *Entry) Unload() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	e.dropSubscriptions()
	if e.registry != nil {
		e.registry.Remove(e.Entities()...)
	}
}

func (e *Entry) dropSubscriptions() {
	for _, unsubscribe := range e.unsubscribe {
		unsubscribe()
	}
	e.unsubscribe = nil
}
