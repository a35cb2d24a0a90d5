package apsystems

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshp123/apsystems-local/internal/entity"
)

// DeviceClient is the subset of the EZ1-M API the coordinator and entities use.
type DeviceClient interface {
	OutputData(ctx context.Context) (*OutputData, error)
	DeviceInfo(ctx context.Context) (*DeviceInfo, error)
	Alarm(ctx context.Context) (*Alarm, error)
	MaxPower(ctx context.Context) (int, error)
	SetMaxPower(ctx context.Context, watts int) (int, error)
	PowerStatus(ctx context.Context) (PowerStatus, error)
	SetPowerStatus(ctx context.Context, status PowerStatus) (PowerStatus, error)
}

// Snapshot is one poll cycle's metrics keyed by name. Published snapshots are
// never modified; a refresh replaces the whole map.
type Snapshot map[string]float64

// Value looks up a metric. A missing key means no data for that metric.
func (s Snapshot) Value(key string) (float64, bool) {
	v, ok := s[key]
	return v, ok
}

// Identity is the static description of the device. Firmware and serial stay
// empty until the first successful info fetch and are not changed afterwards.
type Identity struct {
	ID              string
	Name            string
	Manufacturer    string
	Model           string
	IPAddress       string
	FirmwareVersion string
	SerialNumber    string
}

func (i Identity) DeviceInfo() entity.DeviceInfo {
	return entity.DeviceInfo{
		Identifier:      "apsystemsapi_local_" + i.ID,
		Name:            i.Name,
		Manufacturer:    i.Manufacturer,
		Model:           i.Model,
		IPAddress:       i.IPAddress,
		FirmwareVersion: i.FirmwareVersion,
		SerialNumber:    i.SerialNumber,
	}
}

// Listener observes coordinator refreshes.
type Listener interface {
	// SnapshotReplaced runs after a successful refresh published a new snapshot.
	SnapshotReplaced(Snapshot)
	// RefreshFailed runs after a failed refresh; the previous snapshot is kept.
	RefreshFailed(error)
}

// UpdateFailedError marks a refresh that could not reach or read the device.
type UpdateFailedError struct {
	Err error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("data update failed: %v", e.Err)
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}

// Coordinator polls one device and fans the result out to listeners.
type Coordinator struct {
	client   DeviceClient
	interval time.Duration

	refreshMu sync.Mutex

	snapshot atomic.Pointer[Snapshot]

	mu          sync.RWMutex
	identity    Identity
	listeners   map[int]Listener
	nextID      int
	lastSuccess bool
	lastErr     error
	lastUpdated time.Time
}

func NewCoordinator(cfg Config, client DeviceClient) *Coordinator {
	c := &Coordinator{
		client:   client,
		interval: UpdateInterval,
		identity: Identity{
			ID:           cfg.ID(),
			Name:         cfg.Name,
			Manufacturer: Manufacturer,
			Model:        Model,
			IPAddress:    cfg.IPAddress,
		},
		listeners: make(map[int]Listener),
	}
	empty := Snapshot{}
	c.snapshot.Store(&empty)
	return c
}

// Snapshot returns the last published snapshot. It is empty before the first
// successful refresh. Callers must not modify it.
func (c *Coordinator) Snapshot() Snapshot {
	return *c.snapshot.Load()
}

func (c *Coordinator) Identity() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// LastUpdateSuccess reports whether the most recent refresh succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// LastUpdated is the time of the last successful refresh.
func (c *Coordinator) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdated
}

// Subscribe adds a listener and returns a function that removes it.
func (c *Coordinator) Subscribe(l Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Run refreshes immediately and then every interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Printf("apsystems %s: %v", c.Identity().Name, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh runs one poll cycle. Calls are serialized.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.ensureIdentity(ctx)

	data, err := c.client.OutputData(ctx)
	if err != nil {
		return c.fail(err)
	}

	next := Snapshot{}
	if data != nil {
		for key, value := range data.Fields() {
			next[key] = value
		}
		next["power"] = data.P1 + data.P2
		next["energy_counter"] = data.TE1 + data.TE2
		next["energy_counter_daily"] = data.E1 + data.E2

		if alarm, err := c.client.Alarm(ctx); err == nil && alarm != nil {
			for key, value := range alarm.Fields() {
				next[key] = value
			}
		} else if err != nil && !IsConnectivityError(err) {
			log.Printf("apsystems %s: alarm fetch: %v", c.Identity().Name, err)
		}
	}

	c.publish(next)
	return nil
}

// ensureIdentity fills firmware and serial once. Failures leave the identity
// unset so the next cycle retries; only non-connectivity errors are logged.
func (c *Coordinator) ensureIdentity(ctx context.Context) {
	if c.Identity().SerialNumber != "" {
		return
	}

	info, err := c.client.DeviceInfo(ctx)
	if err != nil {
		if !IsConnectivityError(err) {
			log.Printf("apsystems %s: device info: %v", c.Identity().Name, err)
		}
		return
	}
	if info == nil || info.DeviceID == "" {
		return
	}

	c.mu.Lock()
	if c.identity.SerialNumber == "" {
		c.identity.FirmwareVersion = info.DevVer
		c.identity.SerialNumber = info.DeviceID
	}
	c.mu.Unlock()
}

func (c *Coordinator) publish(next Snapshot) {
	c.snapshot.Store(&next)

	c.mu.Lock()
	c.lastSuccess = true
	c.lastErr = nil
	c.lastUpdated = time.Now()
	listeners := c.listenersLocked()
	c.mu.Unlock()

	for _, l := range listeners {
		l.SnapshotReplaced(next)
	}
}

func (c *Coordinator) fail(err error) error {
	failed := &UpdateFailedError{Err: err}

	c.mu.Lock()
	c.lastSuccess = false
	c.lastErr = failed
	listeners := c.listenersLocked()
	c.mu.Unlock()

	for _, l := range listeners {
		l.RefreshFailed(failed)
	}
	return failed
}

func (c *Coordinator) listenersLocked() []Listener {
	out := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		out = append(out, l)
	}
	return out
}
