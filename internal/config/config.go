package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/turtacn/booklore-runner/pkg/consts"
	"github.com/turtacn/booklore-runner/pkg/protocol"
)

// Load reads configuration from file, environment and defaults.
//
// Precedence (highest first):
//  1. Environment variables (BOOKLORE_RUNNER_*, e.g. BOOKLORE_RUNNER_APPLICATION_PORT)
//  2. Configuration file
//  3. Defaults
//
// An empty configPath searches the default config directory; a missing file is
// not an error.
func Load(configPath string) (*protocol.Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg protocol.Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns a fully populated configuration.
func Default() *protocol.Config {
	cfg := &protocol.Config{Control: protocol.ControlConfig{Enabled: true}}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields. Explicit values are preserved.
func ApplyDefaults(cfg *protocol.Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9464"
	}

	db := &cfg.Database
	if db.Schema == "" {
		db.Schema = consts.DefaultSchema
	}
	if db.PollInterval == 0 {
		db.PollInterval = consts.DefaultPollInterval
	}
	if db.MaxAttempts == 0 {
		db.MaxAttempts = consts.DefaultDBMaxAttempts
	}
	if db.StopGrace == 0 {
		db.StopGrace = consts.DefaultDBStopGrace
	}
	if db.Version == "" {
		db.Version = consts.DefaultMariaDBVersion
	}
	if db.BundleDir == "" {
		db.BundleDir = resourcePath("mariadb")
	}
	if db.DownloadTimeout == 0 {
		db.DownloadTimeout = consts.DefaultDownloadTimeout
	}

	rt := &cfg.Runtime
	if rt.JavaVersion == 0 {
		rt.JavaVersion = consts.DefaultJavaVersion
	}
	if rt.APIURL == "" {
		rt.APIURL = consts.DefaultAdoptiumAPI
	}
	if rt.DownloadTimeout == 0 {
		rt.DownloadTimeout = consts.DefaultDownloadTimeout
	}

	app := &cfg.Application
	if app.Jar == "" {
		app.Jar = resourcePath("booklore-api.jar")
	}
	if app.Port == 0 {
		app.Port = consts.DefaultApplicationPort
	}
	if app.HeapMin == "" {
		app.HeapMin = "128m"
	}
	if app.HeapMax == "" {
		app.HeapMax = "512m"
	}
	if app.HealthPath == "" {
		app.HealthPath = consts.DefaultHealthPath
	}
	if app.PollInterval == 0 {
		app.PollInterval = consts.DefaultPollInterval
	}
	if app.MaxAttempts == 0 {
		app.MaxAttempts = consts.DefaultAppMaxAttempts
	}
	if app.StopGrace == 0 {
		app.StopGrace = consts.DefaultAppStopGrace
	}
	if app.DatabaseUser == "" {
		app.DatabaseUser = consts.DefaultDatabaseUser
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tag constraints on the configuration.
func Validate(cfg *protocol.Config) error {
	return validate.Struct(cfg)
}

// Save writes cfg as YAML, creating parent directories.
func Save(cfg *protocol.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultDataDir returns the per-user app data root.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" && runtime.GOOS != "darwin" {
		return filepath.Join(xdg, consts.AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return consts.AppName
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", consts.AppName)
	}
	return filepath.Join(home, ".local", "share", consts.AppName)
}

// DefaultConfigPath returns the config file searched when none is given.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "booklore-runner")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "booklore-runner")
}

// resourcePath locates name in the resources directory next to the
// executable, where the app bundle ships the server jar and database.
func resourcePath(name string) string {
	exe, err := os.Executable()
	if err != nil {
		return filepath.Join("resources", name)
	}
	return filepath.Join(filepath.Dir(exe), "resources", name)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(consts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(configDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// setDefaults registers every key with viper so environment overrides apply even
// when no config file exists.
func setDefaults(v *viper.Viper, cfg *protocol.Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("database.base_dir", cfg.Database.BaseDir)
	v.SetDefault("database.schema", cfg.Database.Schema)
	v.SetDefault("database.poll_interval", cfg.Database.PollInterval)
	v.SetDefault("database.max_attempts", cfg.Database.MaxAttempts)
	v.SetDefault("database.stop_grace", cfg.Database.StopGrace)
	v.SetDefault("database.version", cfg.Database.Version)
	v.SetDefault("database.bundle_dir", cfg.Database.BundleDir)
	v.SetDefault("database.archive_url", cfg.Database.ArchiveURL)
	v.SetDefault("database.download_timeout", cfg.Database.DownloadTimeout)
	v.SetDefault("runtime.java_version", cfg.Runtime.JavaVersion)
	v.SetDefault("runtime.api_url", cfg.Runtime.APIURL)
	v.SetDefault("runtime.download_timeout", cfg.Runtime.DownloadTimeout)
	v.SetDefault("application.jar", cfg.Application.Jar)
	v.SetDefault("application.port", cfg.Application.Port)
	v.SetDefault("application.heap_min", cfg.Application.HeapMin)
	v.SetDefault("application.heap_max", cfg.Application.HeapMax)
	v.SetDefault("application.health_path", cfg.Application.HealthPath)
	v.SetDefault("application.poll_interval", cfg.Application.PollInterval)
	v.SetDefault("application.max_attempts", cfg.Application.MaxAttempts)
	v.SetDefault("application.stop_grace", cfg.Application.StopGrace)
	v.SetDefault("application.database_user", cfg.Application.DatabaseUser)
	v.SetDefault("application.database_password", cfg.Application.DatabasePassword)
	v.SetDefault("control.enabled", cfg.Control.Enabled)
}

// durationDecodeHook converts strings like "30s" and raw integers to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// Personal.AI order the ending
