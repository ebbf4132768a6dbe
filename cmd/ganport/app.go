package main

import (
	"github.com/samcharles93/ganport/internal/backend"
	"github.com/samcharles93/ganport/internal/backend/plugin"
	"github.com/samcharles93/ganport/internal/checkpoint"
	"github.com/samcharles93/ganport/internal/export"
)

// app owns the selector, registry and checkpoint loader for one process.
type app struct {
	selector *backend.Selector
	registry *plugin.Registry
	loader   *checkpoint.Loader
}

func newApp(cfg Config) *app {
	var opts []plugin.Option
	if pluginDir != "" {
		opts = append(opts, plugin.WithDir(pluginDir))
	}
	return &app{
		selector: backend.NewSelector(backend.Normalize(cfg.Backend)),
		registry: plugin.NewRegistry(opts...),
		loader:   checkpoint.NewLoader(cacheDir),
	}
}

func (a *app) exporter() *export.Exporter {
	return export.New(a.selector, a.registry)
}
