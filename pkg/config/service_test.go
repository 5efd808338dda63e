package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "meter_poller.toml")

	cfg, err := LoadMeterPollerConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AToBRatio != 15 || cfg.IrrigationRelay != 2 || cfg.Baudrate != 9600 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}

	again, err := LoadMeterPollerConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if again.SerialDevice != cfg.SerialDevice || again.DatabaseEnvName != DefaultDatabaseEnvName {
		t.Errorf("reloaded config differs: %+v", again)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poller.toml")
	content := `
serial_device = "/dev/ttyS1"
interval_minutes = 15
meters = ["300001234", "12345"]

[diagnostics]
mode = "immediate"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadMeterPollerConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SerialDevice != "/dev/ttyS1" || cfg.IntervalMinutes != 15 || len(cfg.Meters) != 2 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Diagnostics.Mode != "immediate" || cfg.Diagnostics.Level != "info" {
		t.Errorf("diagnostics = %+v", cfg.Diagnostics)
	}
	if cfg.AToBRatio != 15 {
		t.Errorf("unset ratio should keep default, got %d", cfg.AToBRatio)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poller.yml")
	content := `
serial_device: /dev/ttyUSB3
serial_driver: bugst
a_to_b_ratio: 0
meters: ["300001234"]
redis:
  address: localhost:6379
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadMeterPollerConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SerialDriver != "bugst" || cfg.AToBRatio != 0 || cfg.Redis.Address != "localhost:6379" {
		t.Errorf("yaml values not applied: %+v", cfg)
	}
	if cfg.Redis.Channel != "ekm:records" {
		t.Errorf("redis channel default lost: %q", cfg.Redis.Channel)
	}
}

func TestLoadBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poller.toml")
	if err := os.WriteFile(path, []byte("meters = [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMeterPollerConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MeterPollerConfig)
		want   string
	}{
		{"no meters", func(c *MeterPollerConfig) { c.Meters = nil }, "at least one meter"},
		{"no device", func(c *MeterPollerConfig) { c.SerialDevice = "" }, "serial_device"},
		{"driver", func(c *MeterPollerConfig) { c.SerialDriver = "usb" }, "serial_driver"},
		{"relay", func(c *MeterPollerConfig) { c.IrrigationRelay = 3 }, "irrigation_relay"},
		{"interval", func(c *MeterPollerConfig) { c.IntervalMinutes = -1 }, "interval_minutes"},
		{"ratio", func(c *MeterPollerConfig) { c.AToBRatio = -2 }, "a_to_b_ratio"},
		{"repeat", func(c *MeterPollerConfig) { c.RepeatCount = -1 }, "repeat_count"},
		{"mode", func(c *MeterPollerConfig) { c.Diagnostics.Mode = "loud" }, "diagnostics mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultMeterPollerConfig()
			cfg.Meters = []string{"300001234"}
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestResolveDatabasePath(t *testing.T) {
	cfg := DefaultMeterPollerConfig()
	cfg.DatabaseEnvName = "EKM_TEST_DB"
	t.Setenv("EKM_TEST_DB", "/tmp/from-env.db")

	if got := cfg.ResolveDatabasePath(); got != "/tmp/from-env.db" {
		t.Errorf("env fallback = %q", got)
	}
	cfg.DatabasePath = "/tmp/explicit.db"
	if got := cfg.ResolveDatabasePath(); got != "/tmp/explicit.db" {
		t.Errorf("explicit path = %q", got)
	}
}
