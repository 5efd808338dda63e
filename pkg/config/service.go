package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/pathing"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDatabaseEnvName = "EKMdatabase"
	DefaultFeedMonitorEnv  = "EKM_POLLER_HOST"
)

func DefaultMeterPollerConfig() *MeterPollerConfig {
	return &MeterPollerConfig{
		SerialDevice:    "/dev/ttyUSB0",
		SerialDriver:    "jacobsa",
		Baudrate:        9600,
		IntervalMinutes: 1,
		RepeatCount:     0,
		AToBRatio:       15,
		DatabaseEnvName: DefaultDatabaseEnvName,
		RetentionDays:   0,
		WetMarkerPath:   pathing.GetWetMarkerPath(),
		CloseMarkerPath: pathing.GetCloseMarkerPath(),
		IrrigationRelay: 2,
		Diagnostics: DiagnosticsConfig{
			Mode:   "buffered",
			Level:  "info",
			Format: "text",
		},
		Redis: RedisConfig{
			Channel: "ekm:records",
		},
	}
}

// LoadMeterPollerConfig reads the poller configuration from path, or from the
// default location when path is empty. A missing file is created with defaults.
// Files ending in .yaml or .yml are decoded as YAML, anything else as TOML.
func LoadMeterPollerConfig(path string) (*MeterPollerConfig, error) {
	if path == "" {
		path = pathing.GetMeterPollerConfigPath()
	}

	// Create default if not exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultMeterPollerConfig()
		if err := writeConfig(path, cfg); err != nil {
			return cfg, fmt.Errorf("creating default config %s: %w", path, err)
		}
		return cfg, nil
	}

	// Load existing config on top of the defaults
	cfg := DefaultMeterPollerConfig()
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func writeConfig(path string, cfg any) error {
	if err := pathing.EnsureDirs(filepath.Dir(path)); err != nil {
		return err
	}
	cfgFile, err := os.Create(path)
	if err != nil {
		return err
	}
	defer cfgFile.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(cfgFile)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(cfgFile).Encode(cfg)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ResolveDatabasePath returns database_path, falling back to the environment
// variable named by database_env_name.
func (c *MeterPollerConfig) ResolveDatabasePath() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	if c.DatabaseEnvName != "" {
		return os.Getenv(c.DatabaseEnvName)
	}
	return ""
}

func (c *MeterPollerConfig) Validate() error {
	var errs []error
	if c.SerialDevice == "" {
		errs = append(errs, errors.New("serial_device is required"))
	}
	switch c.SerialDriver {
	case "jacobsa", "bugst":
	default:
		errs = append(errs, fmt.Errorf("unknown serial_driver %q", c.SerialDriver))
	}
	if c.Baudrate == 0 {
		errs = append(errs, errors.New("baudrate must be positive"))
	}
	if c.IntervalMinutes < 0 {
		errs = append(errs, errors.New("interval_minutes must not be negative"))
	}
	if c.RepeatCount < 0 {
		errs = append(errs, errors.New("repeat_count must not be negative"))
	}
	if c.AToBRatio < 0 {
		errs = append(errs, errors.New("a_to_b_ratio must not be negative"))
	}
	if c.RetentionDays < 0 {
		errs = append(errs, errors.New("retention_days must not be negative"))
	}
	if c.IrrigationRelay != 1 && c.IrrigationRelay != 2 {
		errs = append(errs, fmt.Errorf("irrigation_relay must be 1 or 2, got %d", c.IrrigationRelay))
	}
	switch c.Diagnostics.Mode {
	case "buffered", "immediate":
	default:
		errs = append(errs, fmt.Errorf("unknown diagnostics mode %q", c.Diagnostics.Mode))
	}
	if len(c.Meters) == 0 {
		errs = append(errs, errors.New("at least one meter is required"))
	}
	return errors.Join(errs...)
}

// LoadFeedMonitorConfig reads the monitor host from the environment, falling
// back to the poller's default listen address.
func LoadFeedMonitorConfig() *FeedMonitorConfig {
	host := os.Getenv(DefaultFeedMonitorEnv)
	if host == "" {
		host = "localhost:9039"
	}
	return &FeedMonitorConfig{PollerHost: host}
}
