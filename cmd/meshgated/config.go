package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/meshgate/internal/gateway"
)

// meshgated config.toml key mapping to gateway runtime settings.
type fileConfig struct {
	ListenAddr       string     `toml:"listen_addr"`
	AdminListenAddr  string     `toml:"admin_listen_addr"`
	Baud             int        `toml:"baud"`
	RetryInterval    string     `toml:"retry_interval"`
	NodeInfoInterval string     `toml:"node_info_interval"`
	WriteTimeout     string     `toml:"write_timeout"`
	EventLogPath     string     `toml:"event_log_path"`
	Ports            []filePort `toml:"ports"`
}

type filePort struct {
	Path string `toml:"path"`
	ID   string `toml:"id"`
}

// meshgated loader for TOML config with default overlay.
func loadServiceConfig(path string) (gateway.Config, error) {
	cfg := gateway.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return gateway.Config{}, fmt.Errorf("load gateway config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("baud") {
		if raw.Baud <= 0 {
			return gateway.Config{}, fmt.Errorf("load gateway config: baud must be positive, got %d", raw.Baud)
		}
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("retry_interval") {
		d, err := parseInterval("retry_interval", raw.RetryInterval)
		if err != nil {
			return gateway.Config{}, err
		}
		cfg.RetryInterval = d
	}
	if meta.IsDefined("node_info_interval") {
		d, err := parseInterval("node_info_interval", raw.NodeInfoInterval)
		if err != nil {
			return gateway.Config{}, err
		}
		cfg.NodeInfoInterval = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := parseInterval("write_timeout", raw.WriteTimeout)
		if err != nil {
			return gateway.Config{}, err
		}
		cfg.WriteTimeout = d
	}
	if meta.IsDefined("event_log_path") {
		cfg.EventLogPath = strings.TrimSpace(raw.EventLogPath)
	}

	for i, p := range raw.Ports {
		devPath := strings.TrimSpace(p.Path)
		if devPath == "" {
			return gateway.Config{}, fmt.Errorf("load gateway config: ports[%d] missing path", i)
		}
		cfg.Ports = append(cfg.Ports, gateway.PortConfig{
			Path: devPath,
			ID:   strings.TrimSpace(p.ID),
		})
	}

	return cfg, nil
}

func parseInterval(key, val string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("load gateway config: %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("load gateway config: %s must not be negative", key)
	}
	return d, nil
}
