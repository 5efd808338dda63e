package pathing

import (
	"os"
	"path/filepath"
)

// EnsureDirs creates every directory that does not exist yet.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}
	}
	return nil
}

func GetConfigDir() string {
	return "/etc/ekm_meter_reader"
}

func GetMeterPollerConfigPath() string {
	return filepath.Join(GetConfigDir(), "meter_poller.toml")
}

// Marker files live in the home directory of the user running the poller.
func GetWetMarkerPath() string {
	return filepath.Join(homeDir(), ".WeatherWet")
}

func GetCloseMarkerPath() string {
	return filepath.Join(homeDir(), ".CloseReadHouseAndWater")
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
