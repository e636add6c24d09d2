// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs in billing-period math.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Scan environment for _SSM_PARAM suffix variables.
//  4. If APP_ENV != "local", resolve SSM parameters via the SecretProvider
//     and inject the resolved values back into the environment.
//  5. Use envconfig to process struct tags and populate the Config struct.
//  6. Validate the struct using go-playground/validator.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrParsing       ConfigErrorType = "parsing"
	ErrValidation    ConfigErrorType = "validation"
	ErrSSMResolution ConfigErrorType = "ssm_resolution"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix identifies SSM parameter pointer variables. For example,
// STRIPE_WEBHOOK_SECRET_SSM_PARAM points to the SSM path holding the
// STRIPE_WEBHOOK_SECRET value.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses SSM resolution.
const localEnv = "local"

// LoadConfig loads and validates the service configuration.
//
// The provider parameter is the SecretProvider used for SSM resolution. For
// local development the provider may be nil (SSM resolution is skipped when
// APP_ENV=local or when no _SSM_PARAM variables are present).
func LoadConfig(provider SecretProvider) (*Config, error) {
	// Enforce UTC to keep billing-period boundaries stable across hosts.
	time.Local = time.UTC

	// Load .env if present. godotenv does not override existing env vars,
	// preserving the Env > Dotenv priority.
	_ = godotenv.Load()

	appEnv, _ := os.LookupEnv("APP_ENV")
	if appEnv != localEnv {
		if err := resolveSSMParams(provider); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// resolveSSMParams scans the environment for variables ending in _SSM_PARAM,
// fetches the corresponding secret values via the SecretProvider, and injects
// them back into the environment so that envconfig can process them.
//
// If the target variable is already set (direct env var or .env file), SSM
// resolution is skipped for that variable, respecting the priority chain
// OS Environment > Dotenv > SSM.
func resolveSSMParams(provider SecretProvider) error {
	type ssmBinding struct {
		targetEnvVar string // e.g., STRIPE_WEBHOOK_SECRET
		ssmPath      string // e.g., /prod/resonate/stripe/webhook_secret
	}

	var bindings []ssmBinding
	pathToTarget := make(map[string]string)

	for _, envEntry := range os.Environ() {
		eqIdx := strings.IndexByte(envEntry, '=')
		if eqIdx < 0 {
			continue
		}
		key := envEntry[:eqIdx]
		if !strings.HasSuffix(key, ssmParamSuffix) {
			continue
		}

		targetEnvVar := strings.TrimSuffix(key, ssmParamSuffix)
		if _, exists := os.LookupEnv(targetEnvVar); exists {
			continue
		}

		ssmPath := envEntry[eqIdx+1:]
		if ssmPath == "" {
			continue
		}

		bindings = append(bindings, ssmBinding{targetEnvVar: targetEnvVar, ssmPath: ssmPath})
		pathToTarget[ssmPath] = targetEnvVar
	}

	if len(bindings) == 0 {
		return nil
	}

	if provider == nil {
		targetVars := make([]string, 0, len(bindings))
		for _, b := range bindings {
			targetVars = append(targetVars, b.targetEnvVar)
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(targetVars, ", ")),
		}
	}

	ssmPaths := make([]string, 0, len(bindings))
	for _, b := range bindings {
		ssmPaths = append(ssmPaths, b.ssmPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, ssmPaths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "failed to resolve SSM parameters",
			Err:     err,
		}
	}

	for path, value := range resolved {
		target, ok := pathToTarget[path]
		if !ok {
			continue
		}
		if err := os.Setenv(target, value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set %s from SSM", target),
				Err:     err,
			}
		}
	}

	// Every binding must have resolved; a missing secret is a hard failure.
	for _, b := range bindings {
		if _, ok := resolved[b.ssmPath]; !ok {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("SSM parameter %s (for %s) was not resolved", b.ssmPath, b.targetEnvVar),
			}
		}
	}

	return nil
}
