// Package entity defines the host-side entity model: what an entity exposes,
// how its state is rendered, and the registry that fans state out to writers
// such as the MQTT bridge.
package entity

import (
	"context"
	"time"
)

// Platform is the entity kind, matching Home Assistant platform names.
type Platform string

const (
	PlatformSensor Platform = "sensor"
	PlatformNumber Platform = "number"
	PlatformSwitch Platform = "switch"
)

// DeviceInfo identifies the physical device an entity belongs to.
type DeviceInfo struct {
	Identifier      string `json:"identifier"`
	Name            string `json:"name"`
	Manufacturer    string `json:"manufacturer"`
	Model           string `json:"model"`
	IPAddress       string `json:"ip_address,omitempty"`
	FirmwareVersion string `json:"sw_version,omitempty"`
	SerialNumber    string `json:"serial_number,omitempty"`
}

// Attributes are the static presentation hints of an entity.
type Attributes struct {
	FriendlyName      string   `json:"friendly_name"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	Min               *float64 `json:"min,omitempty"`
	Max               *float64 `json:"max,omitempty"`
	Step              *float64 `json:"step,omitempty"`
}

// State is a rendered entity state. Value is nil when unknown.
type State struct {
	Available bool      `json:"available"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entity is the capability every entity has: an id, a device and a state.
type Entity interface {
	UniqueID() string
	Platform() Platform
	Attributes() Attributes
	DeviceInfo() DeviceInfo
	State() State
}

// Poller is implemented by entities that read the device themselves instead
// of following a coordinator.
type Poller interface {
	Entity
	Update(ctx context.Context) error
}

// NumberSetter is implemented by writable number entities.
type NumberSetter interface {
	Entity
	SetNativeValue(ctx context.Context, value float64) error
}

// Toggler is implemented by switch entities.
type Toggler interface {
	Entity
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

// StateWriter renders entity state somewhere outside the process.
type StateWriter interface {
	WriteState(e Entity, s State)
}
