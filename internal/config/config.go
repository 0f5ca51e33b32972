// Package config loads the job service configuration from defaults, an
// optional config file and QUANTTXT_* environment variables.
package config

import "time"

// Config holds all service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
	Jobs     JobsConfig     `mapstructure:"jobs" validate:"required"`
	Quantize QuantizeConfig `mapstructure:"quantize" validate:"required"`
}

// ServerConfig contains HTTP and logging settings.
type ServerConfig struct {
	Port      int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel  string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=json text"`
	// HardTimeLimit bounds how long a single request may take.
	HardTimeLimit  time.Duration `mapstructure:"hard_time_limit" validate:"gt=0"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
}

// DatabaseConfig selects the job store. An empty URL keeps jobs in memory.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// StorageConfig locates result and upload files.
type StorageConfig struct {
	ResultsDir string `mapstructure:"results_dir" validate:"required"`
	UploadsDir string `mapstructure:"uploads_dir" validate:"required"`
}

// JobsConfig tunes the worker pool.
type JobsConfig struct {
	Workers   int `mapstructure:"workers" validate:"gte=1"`
	QueueSize int `mapstructure:"queue_size" validate:"gte=1"`
	// SoftTimeLimit is how long a job may run before its cancellation
	// token reports a timeout.
	SoftTimeLimit   time.Duration `mapstructure:"soft_time_limit" validate:"gt=0"`
	ResultTTL       time.Duration `mapstructure:"result_ttl" validate:"gt=0"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"gt=0"`
}

// QuantizeConfig holds request defaults.
type QuantizeConfig struct {
	DefaultWidth   int  `mapstructure:"default_width" validate:"gte=50,lte=1000"`
	DefaultHeight  int  `mapstructure:"default_height" validate:"gte=50,lte=1000"`
	DefaultQuality int  `mapstructure:"default_quality" validate:"gte=1,lte=10"`
	Advanced       bool `mapstructure:"advanced"`
}
