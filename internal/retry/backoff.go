package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy configures retry behavior. MaxAttempts counts the first call.
type Policy struct {
	MaxAttempts int           `koanf:"max_attempts"` // Total attempts including the first
	BaseDelay   time.Duration `koanf:"base_delay"`   // Delay before the first retry
	MaxDelay    time.Duration `koanf:"max_delay"`    // Upper bound for any single delay; 0 means no cap
	Multiplier  float64       `koanf:"multiplier"`   // Growth factor per attempt; 1 gives a fixed delay
	Jitter      bool          `koanf:"jitter"`       // Add up to ±10% random jitter

	// Retryable decides whether a failed attempt is worth repeating.
	// Nil means IsRetryableError.
	Retryable func(error) bool `koanf:"-"`

	// Name labels log lines; empty disables retry logging.
	Name string `koanf:"-"`
}

// Result contains information about the retry operation
type Result struct {
	Attempts      int           `json:"attempts"`       // Total number of attempts made
	TotalDuration time.Duration `json:"total_duration"` // Total time spent on all attempts
	LastError     error         `json:"-"`              // Last error encountered
	Success       bool          `json:"success"`        // Whether the operation eventually succeeded
	RetryReasons  []string      `json:"retry_reasons"`  // Error text of every failed attempt
}

// FixedPolicy waits the same delay between every attempt.
func FixedPolicy(attempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   delay,
		MaxDelay:    delay,
		Multiplier:  1,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx is done.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) Result {
	startTime := time.Now()
	attempts := max(p.MaxAttempts, 1)
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryableError
	}

	result := Result{RetryReasons: make([]string, 0)}

	for attempt := 0; attempt < attempts; attempt++ {
		result.Attempts = attempt + 1

		err := op(ctx)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if p.Name != "" && attempt > 0 {
				log.Info().Str("op", p.Name).Int("retries", attempt).Dur("elapsed", result.TotalDuration).Msg("operation succeeded after retry")
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, err.Error())

		if !retryable(err) || attempt+1 >= attempts {
			result.TotalDuration = time.Since(startTime)
			if p.Name != "" {
				log.Warn().Err(err).Str("op", p.Name).Int("attempts", result.Attempts).Dur("elapsed", result.TotalDuration).Msg("operation failed")
			}
			return result
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}

		delay := p.delay(attempt)
		if p.Name != "" {
			log.Warn().Err(err).Str("op", p.Name).
				Msgf("attempt %d/%d failed, retrying in %v", attempt+1, attempts, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		case <-timer.C:
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// Err returns nil on success, otherwise the last error.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return r.LastError
}

// delay computes baseDelay * multiplier^attempt, capped at MaxDelay.
func (p Policy) delay(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(p.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// IsRetryableError reports whether err looks like a transient transport
// or upstream failure. Rate limiting is not retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"timeout",
		"temporary failure",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"dns lookup failed",
		"no such host",
		"network unreachable",
		"broken pipe",
		"unexpected eof",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
