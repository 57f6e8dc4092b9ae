package langchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/querygate/internal/ai"
)

// LangchainProvider implements ai.Provider using langchain abstractions
type LangchainProvider struct {
	llm         llms.Model
	modelName   string
	maxTokens   int
	temperature float64
}

// New initializes a Gemini model through langchaingo's googleai backend.
func New(ctx context.Context, config ai.Config) (*LangchainProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	p := &LangchainProvider{modelName: config.Model, maxTokens: config.MaxTokens, temperature: config.Temperature}

	opts := []googleai.Option{
		googleai.WithAPIKey(config.APIKey),
		googleai.WithDefaultModel(p.getModelName()),
	}
	if p.maxTokens > 0 {
		opts = append(opts, googleai.WithDefaultMaxTokens(p.maxTokens))
	}

	log.Info().Str("model", p.getModelName()).Int("max_tokens", p.maxTokens).Msg("initializing answer provider")

	llm, err := googleai.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	p.llm = llm
	return p, nil
}

// NewWithModel wraps an already constructed model.
func NewWithModel(llm llms.Model, config ai.Config) *LangchainProvider {
	return &LangchainProvider{llm: llm, modelName: config.Model, maxTokens: config.MaxTokens, temperature: config.Temperature}
}

func (p *LangchainProvider) Name() string {
	return "langchain/" + p.getModelName()
}

func (p *LangchainProvider) getModelName() string {
	if p.modelName != "" {
		return p.modelName
	}
	return ai.DefaultModel
}

// Answer sends the query verbatim as a single prompt.
func (p *LangchainProvider) Answer(ctx context.Context, query string) (string, error) {
	var opts []llms.CallOption
	if p.temperature > 0 {
		opts = append(opts, llms.WithTemperature(p.temperature))
	}
	if p.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(p.maxTokens))
	}

	response, err := llms.GenerateFromSinglePrompt(ctx, p.llm, query, opts...)
	if err != nil {
		return "", fmt.Errorf("LLM call failed: %w", err)
	}
	if strings.TrimSpace(response) == "" {
		return "", ai.ErrEmptyAnswer
	}
	return response, nil
}
