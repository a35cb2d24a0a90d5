package apsystems

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	Manufacturer = "APsystems"
	Model        = "EZ1-M"

	MinMaxPower = 30
	MaxMaxPower = 800
)

// envelope is the wrapper every EZ1-M endpoint returns.
type envelope struct {
	Data     json.RawMessage `json:"data"`
	Message  string          `json:"message"`
	DeviceID string          `json:"deviceId"`
}

func (e envelope) ok() bool {
	return strings.EqualFold(e.Message, "SUCCESS") && len(e.Data) > 0 && string(e.Data) != "null"
}

// OutputData is the per-channel telemetry of the inverter.
// Power in W, energy in kWh.
type OutputData struct {
	P1  float64 `json:"p1"`
	E1  float64 `json:"e1"`
	TE1 float64 `json:"te1"`
	P2  float64 `json:"p2"`
	E2  float64 `json:"e2"`
	TE2 float64 `json:"te2"`
}

// Fields returns the raw channel values keyed by their API names.
func (o OutputData) Fields() map[string]float64 {
	return map[string]float64{
		"p1":  o.P1,
		"e1":  o.E1,
		"te1": o.TE1,
		"p2":  o.P2,
		"e2":  o.E2,
		"te2": o.TE2,
	}
}

type DeviceInfo struct {
	DeviceID string     `json:"deviceId"`
	DevVer   string     `json:"devVer"`
	SSID     string     `json:"ssid"`
	IPAddr   string     `json:"ipAddr"`
	MinPower flexNumber `json:"minPower"`
	MaxPower flexNumber `json:"maxPower"`
}

// Alarm holds the device fault flags. The API reports them as "0"/"1" strings.
type Alarm struct {
	OffGrid         flexNumber `json:"og"`
	DC1ShortCircuit flexNumber `json:"isce1"`
	DC2ShortCircuit flexNumber `json:"isce2"`
	OutputFault     flexNumber `json:"oe"`
}

// Fields returns the alarm flags keyed by snapshot metric name.
func (a Alarm) Fields() map[string]float64 {
	return map[string]float64{
		"alarm_off_grid":          float64(a.OffGrid),
		"alarm_dc1_short_circuit": float64(a.DC1ShortCircuit),
		"alarm_dc2_short_circuit": float64(a.DC2ShortCircuit),
		"alarm_output_fault":      float64(a.OutputFault),
	}
}

type maxPowerData struct {
	MaxPower flexNumber `json:"maxPower"`
}

type onOffData struct {
	Status flexNumber `json:"status"`
}

// PowerStatus is the inverter output state. The wire values are inverted
// relative to intuition: 0 means producing, 1 means off.
type PowerStatus int

const (
	PowerOn  PowerStatus = 0
	PowerOff PowerStatus = 1
)

func (s PowerStatus) String() string {
	switch s {
	case PowerOn:
		return "on"
	case PowerOff:
		return "off"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// flexNumber accepts both JSON numbers and numeric strings; the firmware
// returns either depending on endpoint and version.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == `""` {
		*f = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", raw, err)
	}
	*f = flexNumber(v)
	return nil
}
