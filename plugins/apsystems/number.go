package apsystems

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joshp123/apsystems-local/internal/entity"
)

// MaxPower is the writable output power limit of the inverter. It talks to
// the device directly rather than through the coordinator.
type MaxPower struct {
	client   DeviceClient
	identity func() Identity
	writer   func(entity.Entity)

	mu        sync.RWMutex
	available bool
	value     *int
	updatedAt time.Time
}

func NewMaxPower(client DeviceClient, identity func() Identity, writer func(entity.Entity)) *MaxPower {
	return &MaxPower{client: client, identity: identity, writer: writer}
}

func (m *MaxPower) UniqueID() string {
	return fmt.Sprintf("apsystemsapi_%s_max_output_power", m.identity().ID)
}

func (m *MaxPower) Platform() entity.Platform {
	return entity.PlatformNumber
}

func (m *MaxPower) Attributes() entity.Attributes {
	lower, upper, step := float64(MinMaxPower), float64(MaxMaxPower), 1.0
	return entity.Attributes{
		FriendlyName:      fmt.Sprintf("APsystems %s Max Output Power", m.identity().Name),
		DeviceClass:       "power",
		UnitOfMeasurement: "W",
		Min:               &lower,
		Max:               &upper,
		Step:              &step,
	}
}

func (m *MaxPower) DeviceInfo() entity.DeviceInfo {
	return m.identity().DeviceInfo()
}

func (m *MaxPower) Available() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available
}

func (m *MaxPower) State() entity.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state := entity.State{Available: m.available, UpdatedAt: m.updatedAt}
	if m.value != nil {
		state.Value = float64(*m.value)
	}
	return state
}

// Update reads the current limit from the device.
func (m *MaxPower) Update(ctx context.Context) error {
	watts, err := m.client.MaxPower(ctx)
	if err != nil {
		return m.handleError(err)
	}
	m.set(watts)
	return nil
}

// SetNativeValue writes a new limit; fractional values are truncated.
func (m *MaxPower) SetNativeValue(ctx context.Context, value float64) error {
	confirmed, err := m.client.SetMaxPower(ctx, int(value))
	if err != nil {
		return m.handleError(err)
	}
	m.set(confirmed)
	return nil
}

func (m *MaxPower) set(watts int) {
	m.mu.Lock()
	m.available = true
	m.value = &watts
	m.updatedAt = time.Now()
	m.mu.Unlock()
	m.write()
}

// handleError marks the entity unavailable on connectivity failures and
// returns every other error untouched.
func (m *MaxPower) handleError(err error) error {
	if !IsConnectivityError(err) {
		return err
	}
	m.mu.Lock()
	m.available = false
	m.updatedAt = time.Now()
	m.mu.Unlock()
	m.write()
	return err
}

func (m *MaxPower) write() {
	if m.writer != nil {
		m.writer(m)
	}
}
