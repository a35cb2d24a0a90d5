package apsystems

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joshp123/apsystems-local/internal/entity"
)

// PowerOutput switches inverter output on and off.
type PowerOutput struct {
	client   DeviceClient
	identity func() Identity
	writer   func(entity.Entity)

	mu        sync.RWMutex
	available bool
	on        *bool
	updatedAt time.Time
}

func NewPowerOutput(client DeviceClient, identity func() Identity, writer func(entity.Entity)) *PowerOutput {
	return &PowerOutput{client: client, identity: identity, writer: writer}
}

func (p *PowerOutput) UniqueID() string {
	return fmt.Sprintf("apsystemsapi_%s_power_output", p.identity().ID)
}

func (p *PowerOutput) Platform() entity.Platform {
	return entity.PlatformSwitch
}

func (p *PowerOutput) Attributes() entity.Attributes {
	return entity.Attributes{
		FriendlyName: "Power output",
		DeviceClass:  "switch",
	}
}

func (p *PowerOutput) DeviceInfo() entity.DeviceInfo {
	return p.identity().DeviceInfo()
}

func (p *PowerOutput) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.available
}

// IsOn returns nil until the first successful read or write.
func (p *PowerOutput) IsOn() *bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.on == nil {
		return nil
	}
	on := *p.on
	return &on
}

func (p *PowerOutput) State() entity.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	state := entity.State{Available: p.available, UpdatedAt: p.updatedAt}
	if p.on != nil {
		state.Value = *p.on
	}
	return state
}

func (p *PowerOutput) Update(ctx context.Context) error {
	status, err := p.client.PowerStatus(ctx)
	if err != nil {
		return p.handleError(err)
	}
	p.set(status == PowerOn)
	return nil
}

func (p *PowerOutput) TurnOn(ctx context.Context) error {
	return p.write(ctx, PowerOn)
}

func (p *PowerOutput) TurnOff(ctx context.Context) error {
	return p.write(ctx, PowerOff)
}

func (p *PowerOutput) write(ctx context.Context, status PowerStatus) error {
	if _, err := p.client.SetPowerStatus(ctx, status); err != nil {
		return p.handleError(err)
	}
	p.set(status == PowerOn)
	return nil
}

func (p *PowerOutput) set(on bool) {
	p.mu.Lock()
	p.available = true
	p.on = &on
	p.updatedAt = time.Now()
	p.mu.Unlock()
	p.render()
}

func (p *PowerOutput) handleError(err error) error {
	if !IsConnectivityError(err) {
		return err
	}
	p.mu.Lock()
	p.available = false
	p.updatedAt = time.Now()
	p.mu.Unlock()
	p.render()
	return err
}

func (p *PowerOutput) render() {
	if p.writer != nil {
		p.writer(p)
	}
}
