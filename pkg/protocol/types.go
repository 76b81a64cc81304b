package protocol

import "time"

// Config represents the root configuration of the runner.
type Config struct {
	// DataDir is the app data root holding all persistent state.
	DataDir     string            `mapstructure:"data_dir" yaml:"data_dir" validate:"required"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Runtime     RuntimeConfig     `mapstructure:"runtime" yaml:"runtime"`
	Application ApplicationConfig `mapstructure:"application" yaml:"application"`
	Control     ControlConfig     `mapstructure:"control" yaml:"control"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr" validate:"required_if=Enabled true"`
}

// DatabaseConfig controls the embedded MariaDB server.
type DatabaseConfig struct {
	// BaseDir pins the MariaDB installation prefix. Empty means auto-detect.
	BaseDir      string        `mapstructure:"base_dir" yaml:"base_dir,omitempty"`
	Schema       string        `mapstructure:"schema" yaml:"schema" validate:"required,alphanum"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"gt=0"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"min=1"`
	StopGrace    time.Duration `mapstructure:"stop_grace" yaml:"stop_grace" validate:"gt=0"`
	// Version is the MariaDB release installed when no server is found.
	Version string `mapstructure:"version" yaml:"version" validate:"required"`
	// BundleDir is a MariaDB distribution shipped with the runner, copied into
	// the app data root on first use.
	BundleDir string `mapstructure:"bundle_dir" yaml:"bundle_dir"`
	// ArchiveURL overrides the release archive location. "{version}" is
	// replaced with Version.
	ArchiveURL      string        `mapstructure:"archive_url" yaml:"archive_url,omitempty"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout" yaml:"download_timeout" validate:"gt=0"`
}

// RuntimeConfig controls Java runtime discovery and download.
type RuntimeConfig struct {
	JavaVersion     int           `mapstructure:"java_version" yaml:"java_version" validate:"min=8"`
	APIURL          string        `mapstructure:"api_url" yaml:"api_url" validate:"required,url"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout" yaml:"download_timeout" validate:"gt=0"`
}

// ApplicationConfig controls the BookLore server process.
type ApplicationConfig struct {
	Jar              string        `mapstructure:"jar" yaml:"jar" validate:"required"`
	Port             int           `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	HeapMin          string        `mapstructure:"heap_min" yaml:"heap_min" validate:"required"`
	HeapMax          string        `mapstructure:"heap_max" yaml:"heap_max" validate:"required"`
	HealthPath       string        `mapstructure:"health_path" yaml:"health_path" validate:"required,startswith=/"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"gt=0"`
	MaxAttempts      int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"min=1"`
	StopGrace        time.Duration `mapstructure:"stop_grace" yaml:"stop_grace" validate:"gt=0"`
	DatabaseUser     string        `mapstructure:"database_user" yaml:"database_user" validate:"required"`
	DatabasePassword string        `mapstructure:"database_password" yaml:"database_password"`
}

// ControlConfig controls the local control API used by the UI.
type ControlConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Personal.AI order the ending
