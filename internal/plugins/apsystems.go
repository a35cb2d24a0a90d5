package plugins

import (
	"github.com/joshp123/apsystems-local/internal/config"
	"github.com/joshp123/apsystems-local/internal/core"
	"github.com/joshp123/apsystems-local/internal/entity"
	"github.com/joshp123/apsystems-local/plugins/apsystems"
)

func init() {
	Register(func(cfg *config.Config, registry *entity.Registry) Build {
		if len(cfg.Devices) == 0 {
			return Build{}
		}
		devices := make([]*apsystems.Entry, 0, len(cfg.Devices))
		entries := make([]core.Entry, 0, len(cfg.Devices))
		for i := range cfg.Devices {
			entry := apsystems.NewEntry(&cfg.Devices[i], registry)
			devices = append(devices, entry)
			entries = append(entries, entry)
		}
		return Build{
			Entries:  entries,
			Services: []core.GRPCRegistrant{apsystems.NewService(devices)},
		}
	})
}
