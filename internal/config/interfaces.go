package config

import "context"

// SecretProvider abstracts the retrieval of secrets to support both AWS SSM
// Parameter Store (production) and environment variables (local development).
// The interface enables dependency injection for testing and
// environment-specific secret resolution.
type SecretProvider interface {
	// GetParametersBatch retrieves multiple secret values, batching requests
	// internally to stay under provider API limits. The keys slice contains
	// the SSM parameter paths (or equivalent identifiers) to resolve.
	// Returns a map of key -> plaintext value for all successfully resolved
	// parameters.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
