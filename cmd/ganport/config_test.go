package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`backend: ref
plugin_dir: /opt/ganport/plugins
cache_dir: /var/cache/ganport
models_dir: /srv/models
log_level: debug
log_format: json
server_address: 0.0.0.0:9000
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfigFile(path)
	if err != nil {
		t.Fatalf("loadConfigFile: %v", err)
	}
	want := Config{
		Backend:       "ref",
		PluginDir:     "/opt/ganport/plugins",
		CacheDir:      "/var/cache/ganport",
		ModelsDir:     "/srv/models",
		LogLevel:      "debug",
		LogFormat:     "json",
		ServerAddress: "0.0.0.0:9000",
	}
	if cfg != want {
		t.Fatalf("config = %+v, want %+v", cfg, want)
	}

	if _, err := loadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("backend: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfigFile(bad); err == nil {
		t.Fatalf("expected error for malformed yaml")
	}
}

func TestApplyServeConfigRespectsFlags(t *testing.T) {
	cfg := Config{PluginDir: "/cfg/plugins", ModelsDir: "/cfg/models", ServerAddress: "0.0.0.0:9000"}

	run := func(args ...string) (addr string) {
		t.Helper()
		pluginDir, modelsDir = "", ""
		cmd := &cli.Command{
			Name:  "serve",
			Flags: append(append(backendFlags(), modelsFlags()...), &cli.StringFlag{Name: "addr", Value: "127.0.0.1:8080", Destination: &addr}),
			Action: func(ctx context.Context, c *cli.Command) error {
				applyServeConfig(c, cfg, &addr)
				return nil
			},
		}
		if err := cmd.Run(context.Background(), append([]string{"serve"}, args...)); err != nil {
			t.Fatalf("run %v: %v", args, err)
		}
		return addr
	}

	if addr := run(); addr != "0.0.0.0:9000" || modelsDir != "/cfg/models" || pluginDir != "/cfg/plugins" {
		t.Fatalf("config not applied: addr=%s models=%s plugins=%s", addr, modelsDir, pluginDir)
	}
	if addr := run("--addr", ":7000", "--models-dir", "/flag/models"); addr != ":7000" || modelsDir != "/flag/models" || pluginDir != "/cfg/plugins" {
		t.Fatalf("flags overridden: addr=%s models=%s plugins=%s", addr, modelsDir, pluginDir)
	}
}
