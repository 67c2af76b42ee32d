package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lexiqai/dialogue-gateway/internal/audio"
	"github.com/lexiqai/dialogue-gateway/internal/failure"
	"github.com/lexiqai/dialogue-gateway/internal/observability"
	"github.com/lexiqai/dialogue-gateway/internal/resilience"
	"github.com/rs/zerolog"
)

// ResilienceOptions configures the breakers and retries around a Client
type ResilienceOptions struct {
	MaxFailures  int
	ResetTimeout time.Duration
	Retry        *resilience.RetryConfig
	SpeechRetry  bool // Retry speech before the caller falls back to text-only
}

// ResilientClient guards each remote stage with its own circuit breaker and retry policy
type ResilientClient struct {
	next          Client
	textBreaker   *resilience.CircuitBreaker
	speechBreaker *resilience.CircuitBreaker
	textRetry     *resilience.RetryConfig
	speechRetry   *resilience.RetryConfig
	logger        zerolog.Logger
}

// WithResilience wraps next with per-stage circuit breakers and retries
func WithResilience(next Client, opts ResilienceOptions) *ResilientClient {
	retry := opts.Retry
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	speechRetry := retry
	if !opts.SpeechRetry {
		speechRetry = resilience.NoRetry()
	}

	c := &ResilientClient{
		next:          next,
		textBreaker:   resilience.NewCircuitBreaker(string(failure.StageText), opts.MaxFailures, opts.ResetTimeout),
		speechBreaker: resilience.NewCircuitBreaker(string(failure.StageSpeech), opts.MaxFailures, opts.ResetTimeout),
		textRetry:     retry,
		speechRetry:   speechRetry,
		logger:        observability.WithComponent("generation"),
	}

	onChange := func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		c.logger.Warn().
			Str("breaker", name).
			Str("state", state.String()).
			Msg("Circuit breaker state changed")
	}
	c.textBreaker.OnStateChange(onChange)
	c.speechBreaker.OnStateChange(onChange)

	return c
}

// GenerateText runs the text stage through its breaker
func (c *ResilientClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	var text string
	err := c.call(ctx, failure.StageText, c.textBreaker, c.textRetry, func(ctx context.Context) error {
		var err error
		text, err = c.next.GenerateText(ctx, prompt)
		return err
	})
	return text, err
}

// GenerateSpeech runs the speech stage through its breaker
func (c *ResilientClient) GenerateSpeech(ctx context.Context, text, voice string) (*audio.Payload, error) {
	var payload *audio.Payload
	err := c.call(ctx, failure.StageSpeech, c.speechBreaker, c.speechRetry, func(ctx context.Context) error {
		var err error
		payload, err = c.next.GenerateSpeech(ctx, text, voice)
		return err
	})
	return payload, err
}

// Close closes the wrapped client
func (c *ResilientClient) Close() error {
	return c.next.Close()
}

// HealthChecks reports each stage as unhealthy while its breaker is open
func (c *ResilientClient) HealthChecks() []observability.HealthCheck {
	return []observability.HealthCheck{
		{Name: string(failure.StageText), Check: breakerCheck(c.textBreaker)},
		{Name: string(failure.StageSpeech), Check: breakerCheck(c.speechBreaker)},
	}
}

func breakerCheck(cb *resilience.CircuitBreaker) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		state, requests, failures, rate := cb.GetStats()
		if state == resilience.StateOpen {
			return false, fmt.Errorf("%w: %d of %d requests failed (%.1f%%)", resilience.ErrCircuitOpen, failures, requests, rate)
		}
		return true, nil
	}
}

// call runs fn under the stage's retry policy and breaker.
// Only failures IsRetryableFailure accepts count against the breaker.
func (c *ResilientClient) call(ctx context.Context, stage failure.Stage, cb *resilience.CircuitBreaker, retry *resilience.RetryConfig, fn resilience.RetryableFunc) error {
	attempt := 0
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		attempt++
		err := cb.CallWithPolicy(func() error { return fn(ctx) }, IsRetryableFailure)
		if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
			if IsRetryableFailure(err) {
				observability.IncrementCircuitBreakerFailures(cb.Name())
			}
			c.logger.Debug().
				Err(err).
				Str("stage", string(stage)).
				Int("attempt", attempt).
				Msg("Generation attempt failed")
		}
		return err
	}, retry, IsRetryableFailure)

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return failure.Transport(stage, "circuit breaker open", err)
	}
	return err
}

// IsRetryableFailure reports whether err is a transient transport failure:
// a network error, a timeout, HTTP 429 or a 5xx status. Errors marked with
// resilience.NewRetryableError are always transient.
func IsRetryableFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	if resilience.IsRetryable(err) {
		return true
	}

	f, ok := failure.As(err)
	if !ok {
		return resilience.IsRetryableNetworkError(err)
	}
	if f.Kind != failure.KindTransport {
		return false
	}

	switch {
	case f.StatusCode == 0:
		return f.Err != nil
	case f.StatusCode == http.StatusTooManyRequests:
		return true
	case f.StatusCode >= 500:
		return true
	}
	return false
}

// statusFailure maps a non-2xx response onto a transport failure.
// 408 asks the client to repeat the request and is marked retryable.
func statusFailure(stage failure.Stage, statusCode int, err error) *failure.Failure {
	f := failure.HTTPStatus(stage, statusCode)
	f.Err = err
	if statusCode == http.StatusRequestTimeout {
		if err == nil {
			err = errors.New(http.StatusText(statusCode))
		}
		f.Err = resilience.NewRetryableError(err)
	}
	return f
}

var _ Client = (*ResilientClient)(nil)

func (c *ResilientClient) String() string {
	return fmt.Sprintf("resilient(%v)", c.next)
}
