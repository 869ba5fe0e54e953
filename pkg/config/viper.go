package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment variables.
// configPath is the directory containing config files.
// configName is the name of the config file (without extension).
// A missing config file is not an error; defaults and env vars apply.
func Load(configPath, configName string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	return read(v)
}

// LoadFile reads configuration from an explicit YAML file path.
func LoadFile(path string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))

	return read(v)
}

func read(v *viper.Viper) (*viper.Viper, error) {
	// Environment variable support
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return v, nil
}

// Duration reads key as a time.Duration, accepting both Go duration strings
// ("30s") and bare integers (seconds). defaultVal is returned when the value
// is missing or malformed.
func Duration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := strings.TrimSpace(v.GetString(key))
	if str == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(str); err == nil {
		return d
	}
	if secs := v.GetInt64(key); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}
