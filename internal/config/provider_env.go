package config

import (
	"context"
	"os"
)

// EnvVarProvider resolves secrets straight from the process environment.
// It backs local development, where .env or exported variables stand in
// for SSM Parameter Store.
type EnvVarProvider struct{}

// NewEnvVarProvider creates a new EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch looks each key up as an environment variable. Keys not
// present in the environment are omitted from the result rather than
// reported as errors; the loader decides whether a missing secret is fatal.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	found := make(map[string]string, len(keys))
	for _, key := range keys {
		if v, ok := os.LookupEnv(key); ok {
			found[key] = v
		}
	}
	return found, nil
}

var _ SecretProvider = (*EnvVarProvider)(nil)
