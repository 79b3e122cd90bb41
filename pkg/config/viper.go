// Package config bootstraps the Viper instance the crawler reads its settings
// from. It wires the config file search paths and the IGOCRAWLER_* environment
// overrides; typed decoding and validation live in internal/config.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override,
// e.g. IGOCRAWLER_DOWNLOAD_MAX_CONCURRENT=8.
const EnvPrefix = "IGOCRAWLER"

// NewViper returns a Viper instance with search paths and environment
// bindings configured and, when one is found, the config file read in.
// An explicit path must exist; without one a missing config.yaml is fine.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/igocrawler/")
		v.AddConfigPath("$HOME/.igocrawler")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}
