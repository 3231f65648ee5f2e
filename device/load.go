package device

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// file mirrors the top-level layout of the device configuration file:
//
//	[devices.abbott-c8000]
//	name = "Abbott Architect c8000"
//	enabled = true
//	protocol = "ASTM"
//	[devices.abbott-c8000.transport]
//	type = "SERIAL"
//	port_name = "/dev/ttyUSB0"
//	baud_rate = 9600
//	data_bits = 8
//	stop_bits = 1
//	parity = "NONE"
type file struct {
	Devices map[string]*Config `toml:"devices"`
}

// Load reads the device configuration file and returns the device map
// keyed by device id. It is called once before the listener manager
// starts; the returned configs must not be mutated afterwards.
func Load(path string) (map[string]*Config, error) {
	var f file
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("device: load %s: %w", path, err)
	}

	return finish(f.Devices)
}

// Parse decodes device configuration from TOML source text.
func Parse(data string) (map[string]*Config, error) {
	var f file
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("device: parse config: %w", err)
	}

	return finish(f.Devices)
}

func finish(devices map[string]*Config) (map[string]*Config, error) {
	if len(devices) == 0 {
		return map[string]*Config{}, nil
	}

	for id, cfg := range devices {
		cfg.ID = id
		if cfg.Name == "" {
			cfg.Name = id
		}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
	}

	return devices, nil
}
