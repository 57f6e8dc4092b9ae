package ai

import (
	"context"
	"errors"
	"time"
)

// Provider answers a free-form query. Implementations must honour ctx
// cancellation; the gateway bounds every call with a deadline.
type Provider interface {
	Answer(ctx context.Context, query string) (string, error)

	// Name returns the provider's name
	Name() string
}

// Config contains configuration for the answer provider
type Config struct {
	Provider    string        `koanf:"provider"`
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	MaxTokens   int           `koanf:"max_tokens"`
	Temperature float64       `koanf:"temperature"`
	Timeout     time.Duration `koanf:"timeout"`
}

const (
	DefaultProvider = "gemini"
	DefaultModel    = "gemini-1.5-flash"
	DefaultTimeout  = 30 * time.Second
)

// ErrEmptyAnswer is returned when the backend replies with no text.
var ErrEmptyAnswer = errors.New("ai: empty response from answer provider")

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, query string) (string, error)

func (f ProviderFunc) Answer(ctx context.Context, query string) (string, error) { return f(ctx, query) }
func (f ProviderFunc) Name() string                                            { return "func" }
