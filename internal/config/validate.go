package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "server.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Server.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Server.Bind != "" && !slices.Contains(validBinds, cfg.Server.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "server.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Server.Bind),
		})
	}

	if cfg.Server.Bind == "custom" && cfg.Server.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "server.customBindHost",
			Message: "required when server.bind is custom",
		})
	}

	if cfg.Provider.APIKey == "" {
		issues = append(issues, ValidationIssue{
			Path:    "provider.apiKey",
			Message: "required (or set OPENAI_API_KEY)",
		})
	}
	if cfg.Provider.Model == "" {
		issues = append(issues, ValidationIssue{
			Path:    "provider.model",
			Message: "required (or set OPENAI_MODEL_ID)",
		})
	}
	if cfg.Provider.TimeoutSeconds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "provider.timeoutSeconds",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Provider.TimeoutSeconds),
		})
	}

	validBackends := []string{"sqlite", "memory"}
	if cfg.Store.Backend != "" && !slices.Contains(validBackends, cfg.Store.Backend) {
		issues = append(issues, ValidationIssue{
			Path:    "store.backend",
			Message: fmt.Sprintf("must be one of %v, got %q", validBackends, cfg.Store.Backend),
		})
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validStyles, cfg.Logging.ConsoleStyle),
		})
	}

	// Identity is optional, but partial configuration is a mistake.
	ident := cfg.Identity
	if (ident.Domain != "" || ident.ClientID != "" || ident.ClientSecret != "") &&
		(ident.Domain == "" || ident.ClientID == "" || ident.ClientSecret == "") {
		issues = append(issues, ValidationIssue{
			Path:    "identity",
			Message: "domain, clientId, and clientSecret must all be set together",
		})
	}

	return issues
}
