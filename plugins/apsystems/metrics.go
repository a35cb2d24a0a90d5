package apsystems

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exports the coordinator snapshot and control entity state.
// It never calls the device; scrapes see the last published snapshot.
type MetricsCollector struct {
	coordinator *Coordinator
	maxPower    *MaxPower
	powerOutput *PowerOutput

	mu sync.Mutex

	powerW        *prometheus.GaugeVec
	lifetimeKWh   *prometheus.GaugeVec
	todayKWh      *prometheus.GaugeVec
	totalPowerW   prometheus.Gauge
	totalKWh      prometheus.Gauge
	totalTodayKWh prometheus.Gauge
	alarm         *prometheus.GaugeVec
	maxPowerW     prometheus.Gauge
	outputOn      prometheus.Gauge
	lastSuccess   prometheus.Gauge
	success       prometheus.Gauge
	info          *prometheus.GaugeVec
}

func NewMetricsCollector(coordinator *Coordinator, maxPower *MaxPower, powerOutput *PowerOutput) *MetricsCollector {
	labels := prometheus.Labels{"device": coordinator.Identity().ID}
	channel := []string{"channel"}
	return &MetricsCollector{
		coordinator: coordinator,
		maxPower:    maxPower,
		powerOutput: powerOutput,
		powerW: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "apsystems_channel_power_watts",
			Help:        "Current DC input power per channel (watts)",
			ConstLabels: labels,
		}, channel),
		lifetimeKWh: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "apsystems_channel_lifetime_energy_kwh",
			Help:        "Lifetime energy per channel (kWh)",
			ConstLabels: labels,
		}, channel),
		todayKWh: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "apsystems_channel_today_energy_kwh",
			Help:        "Energy produced today per channel (kWh)",
			ConstLabels: labels,
		}, channel),
		totalPowerW: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "apsystems_power_watts",
			Help:        "Current total output power (watts)",
			ConstLabels: labels,
		}),
		totalKWh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "apsystems_lifetime_energy_kwh",
			Help:        "Lifetime energy, both channels (kWh)",
			ConstLabels: labels,
		}),
		totalTodayKWh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "apsystems_today_energy_kwh",
			Help:        "Energy produced today, both channels (kWh)",
			ConstLabels: labels,
		}),
		alarm: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "apsystems_alarm",
			Help:        "Device alarm flags (1=active, 0=clear)",
			ConstLabels: labels,
		}, []string{"alarm"}),
		maxPowerW: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "apsystems_max_power_watts",
			Help:        "Configured output power limit (watts)",
			ConstLabels: labels,
		}),
		outputOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "apsystems_output_on",
			Help:        "Inverter output state (1=on, 0=off)",
			ConstLabels: labels,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "apsystems_last_success_timestamp_seconds",
			Help:        "Last successful poll timestamp (epoch seconds)",
			ConstLabels: labels,
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "apsystems_scrape_success",
			Help:        "Last poll success (1=ok, 0=error)",
			ConstLabels: labels,
		}),
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "apsystems_device_info",
			Help:        "Device identity, value is always 1",
			ConstLabels: labels,
		}, []string{"serial", "firmware", "model"}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.powerW.Describe(ch)
	c.lifetimeKWh.Describe(ch)
	c.todayKWh.Describe(ch)
	c.totalPowerW.Describe(ch)
	c.totalKWh.Describe(ch)
	c.totalTodayKWh.Describe(ch)
	c.alarm.Describe(ch)
	c.maxPowerW.Describe(ch)
	c.outputOn.Describe(ch)
	c.lastSuccess.Describe(ch)
	c.success.Describe(ch)
	c.info.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apply()
	c.collectAll(ch)
}

func (c *MetricsCollector) apply() {
	snapshot := c.coordinator.Snapshot()

	c.powerW.Reset()
	c.lifetimeKWh.Reset()
	c.todayKWh.Reset()
	c.alarm.Reset()
	c.info.Reset()

	for _, ch := range []string{"1", "2"} {
		setVec(c.powerW, ch, snapshot, "p"+ch)
		setVec(c.lifetimeKWh, ch, snapshot, "te"+ch)
		setVec(c.todayKWh, ch, snapshot, "e"+ch)
	}
	setGauge(c.totalPowerW, snapshot, "power")
	setGauge(c.totalKWh, snapshot, "energy_counter")
	setGauge(c.totalTodayKWh, snapshot, "energy_counter_daily")

	for _, name := range []string{"off_grid", "dc1_short_circuit", "dc2_short_circuit", "output_fault"} {
		setVec(c.alarm, name, snapshot, "alarm_"+name)
	}

	if c.maxPower != nil {
		if v, ok := c.maxPower.State().Value.(float64); ok {
			c.maxPowerW.Set(v)
		}
	}
	if c.powerOutput != nil {
		if on := c.powerOutput.IsOn(); on != nil {
			c.outputOn.Set(boolFloat(*on))
		}
	}

	identity := c.coordinator.Identity()
	if identity.SerialNumber != "" {
		c.info.WithLabelValues(identity.SerialNumber, identity.FirmwareVersion, identity.Model).Set(1)
	}

	if c.coordinator.LastUpdateSuccess() {
		c.success.Set(1)
		c.lastSuccess.Set(float64(c.coordinator.LastUpdated().Unix()))
	} else {
		c.success.Set(0)
	}
}

func (c *MetricsCollector) collectAll(ch chan<- prometheus.Metric) {
	c.powerW.Collect(ch)
	c.lifetimeKWh.Collect(ch)
	c.todayKWh.Collect(ch)
	c.totalPowerW.Collect(ch)
	c.totalKWh.Collect(ch)
	c.totalTodayKWh.Collect(ch)
	c.alarm.Collect(ch)
	c.maxPowerW.Collect(ch)
	c.outputOn.Collect(ch)
	c.lastSuccess.Collect(ch)
	c.success.Collect(ch)
	c.info.Collect(ch)
}

func setVec(g *prometheus.GaugeVec, label string, snapshot Snapshot, key string) {
	if v, ok := snapshot.Value(key); ok {
		g.WithLabelValues(label).Set(v)
	}
}

func setGauge(g prometheus.Gauge, snapshot Snapshot, key string) {
	if v, ok := snapshot.Value(key); ok {
		g.Set(v)
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
