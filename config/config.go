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

	"github.com/kilianp07/flexgrid/core/flexibility"
	"github.com/kilianp07/flexgrid/core/metrics"
	"github.com/kilianp07/flexgrid/infra/market"
	"github.com/kilianp07/flexgrid/infra/mqtt"
)

type Config struct {
	Store       StoreConfig        `json:"store"`
	MQTT        mqtt.Config        `json:"mqtt"`
	Flexibility flexibility.Config `json:"flexibility"`
	Market      market.Config      `json:"market"`
	Metrics     metrics.Config     `json:"metrics"`
	API         APIConfig          `json:"api"`
	Sentry      SentryConfig       `json:"sentry"`
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
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Store.SetDefaults()
	cfg.MQTT.SetDefaults()
	cfg.Flexibility.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.API.SetDefaults()
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Flexibility.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
