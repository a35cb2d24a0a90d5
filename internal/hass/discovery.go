package hass

import "github.com/joshp123/apsystems-local/internal/entity"

type availability struct {
	Topic string `json:"t"`
}

type discoveryDevice struct {
	IDs          []string `json:"ids"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"mf,omitempty"`
	Model        string   `json:"mdl,omitempty"`
	SWVersion    string   `json:"sw,omitempty"`
	SerialNumber string   `json:"sn,omitempty"`
}

type discovery struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"uniq_id"`
	StateTopic        string          `json:"stat_t"`
	CommandTopic      string          `json:"cmd_t,omitempty"`
	Availability      []availability  `json:"avty"`
	AvailabilityMode  string          `json:"avty_mode"`
	DeviceClass       string          `json:"dev_cla,omitempty"`
	StateClass        string          `json:"stat_cla,omitempty"`
	UnitOfMeasurement string          `json:"unit_of_meas,omitempty"`
	Min               *float64        `json:"min,omitempty"`
	Max               *float64        `json:"max,omitempty"`
	Step              *float64        `json:"step,omitempty"`
	PayloadOn         string          `json:"pl_on,omitempty"`
	PayloadOff        string          `json:"pl_off,omitempty"`
	Device            discoveryDevice `json:"dev"`
}

func discoveryFor(e entity.Entity, opts Options) discovery {
	id := e.UniqueID()
	attrs := e.Attributes()
	dev := e.DeviceInfo()
	d := discovery{
		Name:       attrs.FriendlyName,
		UniqueID:   id,
		StateTopic: opts.stateTopic(id),
		Availability: []availability{
			{Topic: opts.StatusTopic()},
			{Topic: opts.availabilityTopic(id)},
		},
		AvailabilityMode:  "all",
		DeviceClass:       attrs.DeviceClass,
		StateClass:        attrs.StateClass,
		UnitOfMeasurement: attrs.UnitOfMeasurement,
		Device: discoveryDevice{
			IDs:          []string{dev.Identifier},
			Name:         dev.Name,
			Manufacturer: dev.Manufacturer,
			Model:        dev.Model,
			SWVersion:    dev.FirmwareVersion,
			SerialNumber: dev.SerialNumber,
		},
	}
	switch e.Platform() {
	case entity.PlatformNumber:
		d.CommandTopic = opts.commandTopic(id)
		d.Min, d.Max, d.Step = attrs.Min, attrs.Max, attrs.Step
	case entity.PlatformSwitch:
		d.CommandTopic = opts.commandTopic(id)
		d.PayloadOn, d.PayloadOff = payloadOn, payloadOff
	}
	return d
}
