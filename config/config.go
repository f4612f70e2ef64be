// Package config handles YAML-backed configuration for S7 endpoints,
// their pools, and the triggers polled against them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// EndpointConfig describes one PLC endpoint the library should connect
// to: its address, PLC family, optional rack/slot override, and the pool
// sizing/poll interval to use against it.
type EndpointConfig struct {
	Name         string `yaml:"name"`
	Address      string `yaml:"address"`
	Family       string `yaml:"family"` // "s7-200", "s7-300", "s7-400", "s7-1200", "s7-1500"
	Rack         *int   `yaml:"rack,omitempty"`
	Slot         *int   `yaml:"slot,omitempty"`
	PoolSize     int    `yaml:"pool_size,omitempty"`
	PollInterval string `yaml:"poll_interval,omitempty"` // e.g. "500ms"
}

// TriggerConfig describes one boolean to poll for edges, optionally
// republished to an MQTT topic when it fires.
type TriggerConfig struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"` // references EndpointConfig.Name
	DB       int    `yaml:"db"`
	Byte     int    `yaml:"byte"`
	Bit      int    `yaml:"bit"`
	Topic    string `yaml:"topic,omitempty"`
}

// Config is the top-level configuration document.
type Config struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
	Triggers  []TriggerConfig  `yaml:"triggers,omitempty"`

	// dataMu protects the fields above against concurrent access. Callers
	// that modify config should Lock(), modify, then call UnlockAndSave().
	dataMu sync.Mutex `yaml:"-"`
	path   string     `yaml:"-"`
}

// Load reads configuration from a YAML file at path. A missing file is
// not an error: Load returns an empty Config bound to path so a caller
// can populate it and Save.
func Load(path string) (*Config, error) {
	cfg := &Config{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.path = path
	return cfg, nil
}

// Lock acquires the config data mutex for exclusive access before
// modifying fields; pair with UnlockAndSave.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the data mutex without saving.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, and writes to the path Load was
// given. Use this when the caller does not already hold the lock.
func (c *Config) Save() error {
	c.dataMu.Lock()
	return c.saveLocked()
}

// UnlockAndSave marshals and writes, releasing a lock the caller already
// holds via Lock().
func (c *Config) UnlockAndSave() error {
	return c.saveLocked()
}

func (c *Config) saveLocked() error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(c.path, data, 0644)
}

// Endpoint looks up an endpoint by name.
func (c *Config) Endpoint(name string) (EndpointConfig, bool) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	for _, e := range c.Endpoints {
		if e.Name == name {
			return e, true
		}
	}
	return EndpointConfig{}, false
}
