package config

type MeterPollerConfig struct {
	SerialDevice string `toml:"serial_device" yaml:"serial_device"`
	// jacobsa or bugst
	SerialDriver string `toml:"serial_driver" yaml:"serial_driver"`
	Baudrate     uint   `toml:"baudrate" yaml:"baudrate"`

	// Minutes between cycle starts. 0 reads the meters once.
	IntervalMinutes int `toml:"interval_minutes" yaml:"interval_minutes"`
	// Number of cycles to run. 0 runs until stopped.
	RepeatCount int `toml:"repeat_count" yaml:"repeat_count"`
	// A-only cycles per B record. 0 never reads B.
	AToBRatio int      `toml:"a_to_b_ratio" yaml:"a_to_b_ratio"`
	Meters    []string `toml:"meters" yaml:"meters"`

	DatabasePath string `toml:"database_path" yaml:"database_path"`
	// Environment variable consulted when database_path is empty
	DatabaseEnvName   string `toml:"database_env_name" yaml:"database_env_name"`
	DebugDatabasePath string `toml:"debug_database_path" yaml:"debug_database_path"`
	DontWrite         bool   `toml:"dont_write" yaml:"dont_write"`
	RetentionDays     int    `toml:"retention_days" yaml:"retention_days"`

	WetMarkerPath   string `toml:"wet_marker_path" yaml:"wet_marker_path"`
	CloseMarkerPath string `toml:"close_marker_path" yaml:"close_marker_path"`
	IrrigationRelay int    `toml:"irrigation_relay" yaml:"irrigation_relay"`

	Diagnostics DiagnosticsConfig `toml:"diagnostics" yaml:"diagnostics"`

	// Empty disables the live feed
	ListenAddress string      `toml:"listen_address" yaml:"listen_address"`
	Redis         RedisConfig `toml:"redis" yaml:"redis"`
}

type DiagnosticsConfig struct {
	// buffered or immediate
	Mode   string `toml:"mode" yaml:"mode"`
	Show   bool   `toml:"show" yaml:"show"`
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

type RedisConfig struct {
	// Empty disables redis publishing
	Address  string `toml:"address" yaml:"address"`
	Password string `toml:"password" yaml:"password"`
	DB       int    `toml:"db" yaml:"db"`
	Channel  string `toml:"channel" yaml:"channel"`
}

type FeedMonitorConfig struct {
	PollerHost string `toml:"poller_host" yaml:"poller_host"`
}
