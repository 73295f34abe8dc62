// Package config loads the bridge's process-level settings (bridge.toml)
// and maintains the live Controller Descriptor catalog, watching its
// directory for edits so new or corrected descriptors become available
// without a restart.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Settings holds process-wide settings loaded from bridge.toml. cmd/bridge
// reads the OSC ports, descriptor directory, log level and log components.
// VirtualOutputName, DefaultAckTimeoutMs and DefaultDelayMs are loaded but
// not read by any other package; descriptors and the coordinator apply
// their own built-in defaults for the virtual port name, ACK timeout and
// inter-message delay.
type Settings struct {
	VirtualOutputName  string `toml:"virtual_output_name"`
	OSCListenPort      int    `toml:"osc_listen_port"`
	OSCPeerPort        int    `toml:"osc_peer_port"`
	DefaultAckTimeoutMs int   `toml:"default_ack_timeout_ms"`
	DefaultDelayMs     float64 `toml:"default_delay_ms"`
	DescriptorDir      string `toml:"descriptor_dir"`
	LogLevel           string `toml:"log_level"`
	LogComponents      []string `toml:"log_components"`
}

// DefaultSettings returns the settings a fresh install ships with, per
// spec.md §4.2/§4.4/§5 defaults (virtual port name, OSC ports, ACK
// timeout, inter-message delay).
func DefaultSettings() Settings {
	return Settings{
		VirtualOutputName:  "PitchGrid Mapper",
		OSCListenPort:      9000,
		OSCPeerPort:        9001,
		DefaultAckTimeoutMs: 2000,
		DefaultDelayMs:     1.5,
		DescriptorDir:      "descriptors",
		LogLevel:           "info",
	}
}

// LoadSettings reads bridge.toml at path, overlaying it onto
// DefaultSettings so a partial file is valid.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return s, fmt.Errorf("load bridge settings %s: %w", path, err)
	}
	return s, nil
}
