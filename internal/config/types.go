package config

// Config is the root configuration for the Lokkito backend.
type Config struct {
	Server   ServerConfig   `yaml:"server,omitempty"`
	Provider ProviderConfig `yaml:"provider,omitempty"`
	Identity IdentityConfig `yaml:"identity,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket gateway.
type ServerConfig struct {
	Port           int        `yaml:"port,omitempty"`
	Bind           string     `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string     `yaml:"customBindHost,omitempty"`
	Auth           ServerAuth `yaml:"auth,omitempty"`
	AllowedOrigins []string   `yaml:"allowedOrigins,omitempty"`
}

// ServerAuth configures the static bearer-token gate on API routes.
// An empty token disables the gate (local development).
type ServerAuth struct {
	Token string `yaml:"token,omitempty"`
}

// ProviderConfig configures the chat-completion provider.
type ProviderConfig struct {
	APIKey         string `yaml:"apiKey,omitempty"`
	Model          string `yaml:"model,omitempty"`
	BaseURL        string `yaml:"baseUrl,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"` // per-turn completion deadline
}

// IdentityConfig configures the external identity provider used to resolve
// bearer credentials to a user id. All fields empty disables identity lookup.
type IdentityConfig struct {
	Domain       string `yaml:"domain,omitempty"`
	ClientID     string `yaml:"clientId,omitempty"`
	ClientSecret string `yaml:"clientSecret,omitempty"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Backend string `yaml:"backend,omitempty"` // "sqlite" | "memory"
	Path    string `yaml:"path,omitempty"`    // sqlite file path; defaults under the data dir
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}
