// Package config loads the application configuration from a YAML or JSON
// file with optional RG_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/rescuegrid/rescuegrid/core/dispatch"
	"github.com/rescuegrid/rescuegrid/core/scoring"
	"github.com/rescuegrid/rescuegrid/infra/notify"
)

type Config struct {
	Dispatch dispatch.Config `json:"dispatch"`
	Scoring  scoring.Config  `json:"scoring"`
	Metrics  MetricsConfig   `json:"metrics"`
	Notifier NotifierConfig  `json:"notifier"`
	Audit    AuditConfig     `json:"audit"`
	Fleet    FleetConfig     `json:"fleet"`
}

// NotifierConfig wraps the MQTT settings plus an enable switch, so local
// runs work without a broker.
type NotifierConfig struct {
	Enabled bool          `json:"enabled"`
	MQTT    notify.Config `json:"mqtt"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("RG_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "rg_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Dispatch.SetDefaults()
	cfg.Scoring.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.Audit.SetDefaults()
	if err := cfg.Scoring.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Metrics.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Audit.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
