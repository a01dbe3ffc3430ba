// Package config loads domain.Config from tier defaults, an optional YAML or
// JSON file and KESTREL_* environment variables, in that order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. KESTREL_MATCHING_THRESHOLD.
const EnvPrefix = "KESTREL"

// Load builds the configuration. path may be empty. The tier, read from the
// file or KESTREL_TIER, picks the defaults everything else overrides.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", domain.ErrConfiguration, path, err)
		}
	}

	base := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(v.GetString("tier"))) == domain.TierPro {
		base = domain.ProConfig()
	}
	if err := setDefaults(v, base); err != nil {
		return nil, err
	}

	cfg := &domain.Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)), func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
	})
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", domain.ErrConfiguration, err)
	}
	cfg.Tier = domain.Tier(strings.ToLower(string(cfg.Tier)))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every field of base so AutomaticEnv can see it.
func setDefaults(v *viper.Viper, base *domain.Config) error {
	raw, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("%w: encode defaults: %w", domain.ErrConfiguration, err)
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("%w: decode defaults: %w", domain.ErrConfiguration, err)
	}
	flatten(v, "", tree)
	return nil
}

func flatten(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok && len(sub) > 0 {
			flatten(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}
