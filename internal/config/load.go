package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// QUANTTXT_SERVER_PORT.
const EnvPrefix = "QUANTTXT"

// ErrInvalidConfig is returned when the loaded configuration fails
// validation.
var ErrInvalidConfig = errors.New("invalid configuration")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.hard_time_limit", 300*time.Second)
	v.SetDefault("server.max_upload_bytes", 10<<20)

	v.SetDefault("database.url", "")

	v.SetDefault("storage.results_dir", "./results")
	v.SetDefault("storage.uploads_dir", "./uploads")

	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_size", 100)
	v.SetDefault("jobs.soft_time_limit", 240*time.Second)
	v.SetDefault("jobs.result_ttl", 3600*time.Second)
	v.SetDefault("jobs.cleanup_interval", 5*time.Minute)

	v.SetDefault("quantize.default_width", 200)
	v.SetDefault("quantize.default_height", 200)
	v.SetDefault("quantize.default_quality", 5)
	v.SetDefault("quantize.advanced", true)
}

// Load reads configuration. Values come from, in increasing precedence:
// built-in defaults, the file at path (skipped when path is empty) and
// QUANTTXT_* environment variables with dots replaced by underscores.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &cfg, nil
}
