// Package config wires the token and capability services together from a
// YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config collects all configuration options.
type Config struct {
	TokenStore TokenStore `yaml:"tokenStore"`
	Capability Capability `yaml:"capability"`
	Session    Session    `yaml:"session"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (Config, error) {
	var config Config

	file, err := os.Open(path)
	if err != nil {
		return config, fmt.Errorf("opening config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)

	if err := decoder.Decode(&config); err != nil {
		return config, fmt.Errorf("parsing config file: %w", err)
	}

	return config, nil
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.TokenStore.Type == "" {
		return fmt.Errorf("token store type is required")
	}

	if err := c.TokenStore.Config.Validate(); err != nil {
		return err
	}

	if err := c.Capability.Validate(); err != nil {
		return err
	}

	return nil
}

// Capability configures capability URI issuing.
type Capability struct {
	// BindSubject ties capabilities to the authenticated user they were minted for.
	BindSubject bool `yaml:"bindSubject"`

	// TTL is the default lifetime of minted capabilities.
	TTL time.Duration `yaml:"ttl"`
}

// Validate validates the capability configuration.
func (c Capability) Validate() error {
	if c.TTL < 0 {
		return fmt.Errorf("capability: ttl must not be negative")
	}

	return nil
}

// Session configures the session lifecycle endpoints.
type Session struct {
	// Expiry is the session token lifetime.
	Expiry time.Duration `yaml:"expiry"`
}

// rawConfig is a general struct to be used by other config structs to unmarshal yaml config first.
type rawConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config"`
}
