package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Provider.APIKey = "sk-test"
	return cfg
}

func issuePaths(issues []ValidationIssue) []string {
	paths := make([]string, 0, len(issues))
	for _, i := range issues {
		paths = append(paths, i.Path)
	}
	return paths
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig()
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_Issues(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000
	cfg.Server.Bind = "public"
	cfg.Provider.APIKey = ""
	cfg.Provider.TimeoutSeconds = -1
	cfg.Store.Backend = "postgres"
	cfg.Logging.Level = "verbose"

	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "server.port")
	assert.Contains(t, paths, "server.bind")
	assert.Contains(t, paths, "provider.apiKey")
	assert.Contains(t, paths, "provider.timeoutSeconds")
	assert.Contains(t, paths, "store.backend")
	assert.Contains(t, paths, "logging.level")
}

func TestValidate_CustomBindRequiresHost(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Bind = "custom"
	assert.Contains(t, issuePaths(Validate(&cfg)), "server.customBindHost")

	cfg.Server.CustomBindHost = "10.0.0.5"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_PartialIdentity(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.Domain = "tenant.auth0.com"
	assert.Contains(t, issuePaths(Validate(&cfg)), "identity")

	cfg.Identity.ClientID = "abc"
	cfg.Identity.ClientSecret = "xyz"
	assert.Empty(t, Validate(&cfg))
}
