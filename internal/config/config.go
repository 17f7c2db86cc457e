package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// envPrefix namespaces the environment overrides, e.g.
// QUIZROYALE_HTTP_PORT overrides http.port.
const envPrefix = "QUIZROYALE"

// Load reads config from file into the config struct, layering environment
// variables on top. The struct's current field values act as defaults; config
// must be a pointer.
func Load(file string, config any) error {
	v := viper.New()

	// Seed viper with the struct's zero-value defaults so a partial config
	// file merges instead of replacing.
	defaults := make(map[string]any)
	if err := mapstructure.Decode(config, &defaults); err != nil {
		return fmt.Errorf("decode defaults: %v", err)
	}
	if err := v.MergeConfigMap(defaults); err != nil {
		return fmt.Errorf("merge defaults: %v", err)
	}

	v.SetConfigFile(file)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("read config from file %s: %v", file, err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}
