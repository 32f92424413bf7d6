package hostui

import (
	"encoding/json"
	"os"
)

// Config holds window and key-binding settings persisted across runs.
type Config struct {
	Title string
	Scale int

	AudioEnabled bool
	AudioMuted   bool

	// KeyBindings maps a Button name to an ebiten key name. It is persisted
	// with the other settings, but NewApp does not read it: the built-in
	// key map is always used.
	KeyBindings map[string]string
}

func (c *Config) defaults() {
	if c.Title == "" {
		c.Title = "gbaemu"
	}
	if c.Scale <= 0 {
		c.Scale = 3
	}
}

func settingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".gbaemu.json"
	}
	return dir + "/gbaemu.json"
}

// LoadConfig reads persisted settings, filling in the defaults (title
// "gbaemu", scale 3) for any that are missing or when none exist yet.
func LoadConfig() Config {
	var c Config
	data, err := os.ReadFile(settingsPath())
	if err == nil {
		_ = json.Unmarshal(data, &c)
	}
	c.defaults()
	return c
}

// Save persists the config to the host's per-user config directory.
func (c Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(settingsPath(), data, 0644)
}
