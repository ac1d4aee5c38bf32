// Package config loads and validates the Lokkito backend configuration.
package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 3000,
			Bind: "loopback",
		},
		Provider: ProviderConfig{
			Model:          "gpt-3.5-turbo",
			BaseURL:        "https://api.openai.com",
			TimeoutSeconds: 120,
		},
		Store: StoreConfig{
			Backend: "sqlite",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
