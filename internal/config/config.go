package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion              = 1
	DefaultPath                = "/etc/apsystems-local/config.yaml"
	DefaultGRPCAddr            = "0.0.0.0:9000"
	DefaultHTTPAddr            = "0.0.0.0:8080"
	DefaultDashboardDir        = "/var/lib/apsystems-local/dashboards"
	DefaultDeviceName          = "solar"
	DefaultMQTTDiscoveryPrefix = "homeassistant"
	DefaultMQTTBaseTopic       = "apsystems"
)

// Config is the on-disk configuration.
type Config struct {
	SchemaVersion int            `yaml:"schema_version"`
	Core          *CoreConfig    `yaml:"core"`
	MQTT          *MQTTConfig    `yaml:"mqtt"`
	Devices       []DeviceConfig `yaml:"devices"`
}

type CoreConfig struct {
	GRPCAddr     string `yaml:"grpc_addr"`
	HTTPAddr     string `yaml:"http_addr"`
	DashboardDir string `yaml:"dashboard_dir"`
}

// MQTTConfig enables the Home Assistant MQTT bridge when present.
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	UsernameFile    string `yaml:"username_file"`
	PasswordFile    string `yaml:"password_file"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	BaseTopic       string `yaml:"base_topic"`
}

// DeviceConfig is one EZ1-M config entry.
type DeviceConfig struct {
	Name      string `yaml:"name"`
	IPAddress string `yaml:"ip_address"`
	Port      int    `yaml:"port"`
}

// ID is the device's identifier: its name reduced by Slug.
func (d DeviceConfig) ID() string {
	return Slug(d.Name)
}

// Slug lowercases name and collapses everything outside [a-z0-9] into single
// underscores, so the result works as entry id, metric label and topic segment.
func Slug(name string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			sep = false
			continue
		}
		if b.Len() > 0 && !sep {
			b.WriteByte('_')
			sep = true
		}
	}
	id := strings.TrimSuffix(b.String(), "_")
	if id == "" {
		return DefaultDeviceName
	}
	if id[0] >= '0' && id[0] <= '9' {
		id = "device_" + id
	}
	return id
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core == nil {
		cfg.Core = &CoreConfig{}
	}
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}

	if cfg.MQTT != nil {
		if cfg.MQTT.DiscoveryPrefix == "" {
			cfg.MQTT.DiscoveryPrefix = DefaultMQTTDiscoveryPrefix
		}
		if cfg.MQTT.BaseTopic == "" {
			cfg.MQTT.BaseTopic = DefaultMQTTBaseTopic
		}
	}

	for i := range cfg.Devices {
		if strings.TrimSpace(cfg.Devices[i].Name) == "" {
			cfg.Devices[i].Name = DefaultDeviceName
		}
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core == nil {
		return fmt.Errorf("core config is required")
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if cfg.MQTT != nil && strings.TrimSpace(cfg.MQTT.Broker) == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	if len(cfg.Devices) == 0 {
		return fmt.Errorf("at least one device is required")
	}
	// Per-device settings such as ip_address are checked when the entry is
	// set up, so one bad device does not keep the others from starting.
	seen := make(map[string]string)
	for _, dev := range cfg.Devices {
		id := dev.ID()
		if other, ok := seen[id]; ok {
			return fmt.Errorf("devices %q and %q share id %s", other, dev.Name, id)
		}
		seen[id] = dev.Name
	}

	return nil
}

// ReadSecretFile reads a credential file, trimming surrounding whitespace.
func ReadSecretFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
