package apsystems

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joshp123/apsystems-local/internal/config"
)

const (
	DefaultName = "solar"
	DefaultPort = 8050

	// UpdateInterval is the coordinator poll period.
	UpdateInterval = 15 * time.Second
	// ScanInterval is how often entities that talk to the device directly refresh.
	ScanInterval = 30 * time.Second
)

// Config defines runtime configuration for one EZ1-M. Name is the display
// name; ID derives the identifier used in entry ids, unique ids and labels.
type Config struct {
	Name      string
	IPAddress string
	Port      int
}

func (c Config) ID() string {
	return config.Slug(c.Name)
}

func (c Config) BaseURL() string {
	return "http://" + net.JoinHostPort(c.IPAddress, strconv.Itoa(c.Port))
}

// ConfigFromDevice validates a device block from the config file.
func ConfigFromDevice(cfg *config.DeviceConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("apsystems device config is required")
	}

	ip := strings.TrimSpace(cfg.IPAddress)
	if ip == "" {
		return Config{}, fmt.Errorf("apsystems ip_address is required")
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = DefaultName
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	if port < 0 || port > 65535 {
		return Config{}, fmt.Errorf("apsystems port %d out of range", port)
	}

	return Config{Name: name, IPAddress: ip, Port: port}, nil
}
