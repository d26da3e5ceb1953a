package core

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	ServiceName string `koanf:"service_name" mapstructure:"service_name"`
	// DefaultCommandTimeoutSeconds bounds commands without their own timeout.
	// Zero leaves them unbounded.
	DefaultCommandTimeoutSeconds int  `koanf:"default_command_timeout_seconds" mapstructure:"default_command_timeout_seconds"`
	ListRegisteredOnMiss         bool `koanf:"list_registered_on_miss" mapstructure:"list_registered_on_miss"`
	MaxListedNames               int  `koanf:"max_listed_names" mapstructure:"max_listed_names"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:          "connectors",
		ListRegisteredOnMiss: true,
		MaxListedNames:       32,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.DefaultCommandTimeoutSeconds < 0 {
		return fmt.Errorf("core: default_command_timeout_seconds must not be negative")
	}
	if c.MaxListedNames < 0 {
		return fmt.Errorf("core: max_listed_names must not be negative")
	}
	return nil
}

func (c Config) DefaultCommandTimeout() time.Duration {
	return time.Duration(c.DefaultCommandTimeoutSeconds) * time.Second
}
