package apsystems

import (
	"log"
	"sync"
	"time"

	"github.com/joshp123/apsystems-local/internal/entity"
)

// SensorDescription describes one snapshot-backed sensor.
type SensorDescription struct {
	Key         string
	Name        string
	Unit        string
	DeviceClass string
	StateClass  string
}

var SensorTypes = []SensorDescription{
	{Key: "power", Name: "Power", Unit: "W", DeviceClass: "power", StateClass: "measurement"},
	{Key: "p1", Name: "Power channel 1", Unit: "W", DeviceClass: "power", StateClass: "measurement"},
	{Key: "p2", Name: "Power channel 2", Unit: "W", DeviceClass: "power", StateClass: "measurement"},
	{Key: "energy_counter", Name: "Lifetime energy", Unit: "kWh", DeviceClass: "energy", StateClass: "total"},
	{Key: "te1", Name: "Energy channel 1", Unit: "kWh", DeviceClass: "energy", StateClass: "total"},
	{Key: "te2", Name: "Energy channel 2", Unit: "kWh", DeviceClass: "energy", StateClass: "total"},
	{Key: "energy_counter_daily", Name: "Energy today", Unit: "kWh", DeviceClass: "energy", StateClass: "total"},
	{Key: "e1", Name: "Energy today channel 1", Unit: "kWh", DeviceClass: "energy", StateClass: "total"},
	{Key: "e2", Name: "Energy today channel 2", Unit: "kWh", DeviceClass: "energy", StateClass: "total"},
	{Key: "alarm_off_grid", Name: "Off grid alarm"},
	{Key: "alarm_dc1_short_circuit", Name: "DC1 short circuit alarm"},
	{Key: "alarm_dc2_short_circuit", Name: "DC2 short circuit alarm"},
	{Key: "alarm_output_fault", Name: "Output fault alarm"},
}

// Sensor follows one snapshot key of a coordinator.
type Sensor struct {
	coordinator *Coordinator
	descr       SensorDescription
	writer      func(entity.Entity)

	mu        sync.RWMutex
	available bool
	value     float64
	updatedAt time.Time
}

// NewSensor subscribes a sensor to coordinator. writer renders every state
// change; it may be nil.
func NewSensor(coordinator *Coordinator, descr SensorDescription, writer func(entity.Entity)) (*Sensor, func()) {
	s := &Sensor{coordinator: coordinator, descr: descr, writer: writer}
	unsubscribe := coordinator.Subscribe(s)
	return s, unsubscribe
}

func (s *Sensor) UniqueID() string {
	return s.coordinator.Identity().ID + "-" + s.descr.Key
}

// Key is the snapshot key the sensor follows.
func (s *Sensor) Key() string {
	return s.descr.Key
}

func (s *Sensor) Platform() entity.Platform {
	return entity.PlatformSensor
}

func (s *Sensor) Attributes() entity.Attributes {
	return entity.Attributes{
		FriendlyName:      s.descr.Name,
		DeviceClass:       s.descr.DeviceClass,
		StateClass:        s.descr.StateClass,
		UnitOfMeasurement: s.descr.Unit,
	}
}

func (s *Sensor) DeviceInfo() entity.DeviceInfo {
	return s.coordinator.Identity().DeviceInfo()
}

// Available requires both the last refresh to have succeeded and the key to
// have been present in the last snapshot.
func (s *Sensor) Available() bool {
	return s.State().Available
}

func (s *Sensor) State() entity.State {
	s.mu.RLock()
	available, value, updatedAt := s.available, s.value, s.updatedAt
	s.mu.RUnlock()

	state := entity.State{Available: available && s.coordinator.LastUpdateSuccess(), UpdatedAt: updatedAt}
	if state.Available {
		state.Value = value
	}
	return state
}

func (s *Sensor) SnapshotReplaced(snapshot Snapshot) {
	value, ok := snapshot.Value(s.descr.Key)

	s.mu.Lock()
	wasAvailable := s.available
	if ok {
		s.value = value
		s.available = true
	} else {
		s.available = false
	}
	s.updatedAt = time.Now()
	s.mu.Unlock()

	if !ok && wasAvailable {
		log.Printf("apsystems %s: no update available for %s", s.coordinator.Identity().Name, s.descr.Key)
	}
	s.write()
}

func (s *Sensor) RefreshFailed(error) {
	s.write()
}

func (s *Sensor) write() {
	if s.writer != nil {
		s.writer(s)
	}
}
