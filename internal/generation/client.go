package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/lexiqai/dialogue-gateway/internal/config"
	"github.com/lexiqai/dialogue-gateway/internal/resilience"
)

// New builds the configured backend wrapped with breakers and retries
func New(ctx context.Context, cfg *config.Config) (*ResilientClient, error) {
	var backend Client
	switch cfg.GenerationBackend {
	case config.BackendREST:
		backend = NewRESTClient(cfg)
	case config.BackendSDK:
		sdk, err := NewSDKClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create genai client: %w", err)
		}
		backend = sdk
	default:
		return nil, fmt.Errorf("unknown generation backend %q", cfg.GenerationBackend)
	}

	return WithResilience(backend, OptionsFromConfig(cfg)), nil
}

// OptionsFromConfig maps resilience settings onto ResilienceOptions
func OptionsFromConfig(cfg *config.Config) ResilienceOptions {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	return ResilienceOptions{
		MaxFailures:  cfg.CircuitBreakerMaxFailures,
		ResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
		Retry:        retry,
		SpeechRetry:  cfg.SpeechRetryEnabled,
	}
}
