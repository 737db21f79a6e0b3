// Package config provides YAML-based configuration loading for tactiled.
package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"

    "github.com/spf13/viper"
)

// Config is the root daemon configuration.
type Config struct {
    // AppName optional logical name of the daemon instance
    AppName string `mapstructure:"app_name"`

    // DataDir base directory for persistent data (device cache)
    DataDir string `mapstructure:"data_dir"`

    // Log holds logging configuration
    Log LogConfig `mapstructure:"log"`

    // Probe holds the identify-handshake defaults
    Probe ProbeConfig `mapstructure:"probe"`

    // Devices lists the hardware to connect at startup
    Devices []DeviceConfig `mapstructure:"devices"`
}

// LogConfig defines logger settings.
type LogConfig struct {
    // Level: debug, info, warn, error
    Level string `mapstructure:"level"`
    // Format: console or json
    Format string `mapstructure:"format"`
    // Outputs: list of outputs: stdout, stderr, or file paths
    Outputs []string `mapstructure:"outputs"`

    // Rotation controls file rotation when writing to files
    Rotation RotationConfig `mapstructure:"rotation"`
    // Development toggles development-friendly logging options
    Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable"`
    Filename   string `mapstructure:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days"`
    Compress   bool   `mapstructure:"compress"`
}

// ProbeConfig bounds the identify handshake.
type ProbeConfig struct {
    TimeoutMS  int `mapstructure:"timeout_ms"`
    RetryLimit int `mapstructure:"retry_limit"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
    return &Config{
        AppName: "tactiled",
        DataDir: "./data",
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stdout"},
            Development: false,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/tactiled.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
        Probe: ProbeConfig{TimeoutMS: 1000, RetryLimit: 2},
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment
// overrides. Environment variables use the prefix TACTILED and `.`/`-`
// are replaced with `_`. Example: TACTILED_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("TACTILED")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()

    // seed defaults for viper so env-only configs work
    v.SetDefault("app_name", cfg.AppName)
    v.SetDefault("data_dir", cfg.DataDir)
    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
    v.SetDefault("probe.timeout_ms", cfg.Probe.TimeoutMS)
    v.SetDefault("probe.retry_limit", cfg.Probe.RetryLimit)
    v.SetDefault("devices", cfg.Devices)

    if path == "" {
        if envPath := os.Getenv("TACTILED_CONFIG"); envPath != "" {
            path = envPath
        }
    }

    if path != "" {
        v.SetConfigFile(path)
    } else {
        v.SetConfigName("tactiled")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        v.AddConfigPath("/etc/tactiled")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".tactiled"))
        }
    }

    // Read config file if present; if not found, continue with defaults/env
    if err := v.ReadInConfig(); err != nil {
        var notFound viper.ConfigFileNotFoundError
        if !errors.As(err, &notFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }

    if err := v.Unmarshal(&cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }

    if err := cfg.validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

func (c *Config) validate() error {
    lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
    switch lvl {
    case "debug", "info", "warn", "warning", "error":
        // ok
    default:
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }

    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stdout"}
    }
    if c.Probe.TimeoutMS <= 0 {
        c.Probe.TimeoutMS = 1000
    }
    if c.Probe.RetryLimit < 0 {
        c.Probe.RetryLimit = 0
    }
    // link state downstream is keyed by name, so names must be unique
    names := make(map[string]struct{}, len(c.Devices))
    for i := range c.Devices {
        if err := c.Devices[i].validate(); err != nil {
            return fmt.Errorf("devices[%d]: %w", i, err)
        }
        name := c.Devices[i].Name
        if _, dup := names[name]; dup {
            return fmt.Errorf("devices[%d]: duplicate name %q", i, name)
        }
        names[name] = struct{}{}
    }
    return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}
