package plugins

import (
	"github.com/joshp123/apsystems-local/internal/config"
	"github.com/joshp123/apsystems-local/internal/core"
	"github.com/joshp123/apsystems-local/internal/entity"
)

// Build is what one integration contributes for a loaded config.
type Build struct {
	Entries  []core.Entry
	Services []core.GRPCRegistrant
}

// Factory builds an integration's entries from the loaded config. Entities
// are added to registry.
type Factory func(cfg *config.Config, registry *entity.Registry) Build

var compiled []Factory

// Register adds a compiled-in integration factory.
func Register(factory Factory) {
	compiled = append(compiled, factory)
}

// Compiled runs every registered factory and merges the results.
func Compiled(cfg *config.Config, registry *entity.Registry) Build {
	var out Build
	if cfg == nil {
		return out
	}
	for _, factory := range compiled {
		b := factory(cfg, registry)
		out.Entries = append(out.Entries, b.Entries...)
		out.Services = append(out.Services, b.Services...)
	}
	return out
}
