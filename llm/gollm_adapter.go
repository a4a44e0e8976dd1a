package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/teilomillet/gollm"
)

// GollmClient generates free-form text through gollm. It serves background
// calls, such as archive synopses, that need no tools and no strict schema.
type GollmClient struct {
	provider string
	llm      gollm.LLM
	model    string
	policy   RetryPolicy
}

// GollmOption configures a GollmClient.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	model     string
	maxTokens int
	policy    RetryPolicy
	extraOpts []gollm.ConfigOption
}

// WithGollmModel sets the model.
func WithGollmModel(model string) GollmOption {
	return func(c *gollmConfig) {
		c.model = model
	}
}

// WithGollmMaxTokens sets the output token limit.
func WithGollmMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) {
		c.maxTokens = n
	}
}

// WithGollmRetryPolicy replaces the retry policy.
func WithGollmRetryPolicy(p RetryPolicy) GollmOption {
	return func(c *gollmConfig) {
		c.policy = p
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmClient creates a client for provider. If apiKey is empty, gollm
// reads it from the environment.
func NewGollmClient(provider, apiKey string, opts ...GollmOption) (*GollmClient, error) {
	cfg := &gollmConfig{
		model:     "gpt-4o-mini",
		maxTokens: 1024,
		policy:    DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(cfg.model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetMaxRetries(0), // Retry[T] handles retries.
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	l, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("create gollm client for provider %s", provider),
			Cause:   err,
		}}
	}
	return &GollmClient{provider: provider, llm: l, model: cfg.model, policy: cfg.policy}, nil
}

// Model returns the configured model.
func (c *GollmClient) Model() string { return c.model }

// Generate sends a system and user prompt and returns the reply text.
func (c *GollmClient) Generate(ctx context.Context, system, user string) (string, error) {
	var promptOpts []gollm.PromptOption
	if system != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	prompt := gollm.NewPrompt(user, promptOpts...)

	return Retry(ctx, c.policy, func(ctx context.Context) (string, error) {
		text, err := c.llm.Generate(ctx, prompt)
		if err != nil {
			return "", translateGollmError(c.provider, err)
		}
		return text, nil
	})
}

// translateGollmError classifies a gollm error by its message.
func translateGollmError(provider string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	base := SDKError{Message: provider + ": " + msg, Cause: err}

	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return &RequestTimeoutError{SDKError: base}
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		return &ClientRequestError{ProviderError: ProviderError{SDKError: base, StatusCode: 401}}
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		return &ClientRequestError{ProviderError: ProviderError{SDKError: base, StatusCode: 403}}
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		return &ClientRequestError{ProviderError: ProviderError{SDKError: base, StatusCode: 404}}
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return &ClientRequestError{ProviderError: ProviderError{SDKError: base, StatusCode: 429}}
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "internal server"):
		return &ServerError{ProviderError: ProviderError{SDKError: base, StatusCode: 500, Retryable: true}}
	default:
		return &ProviderError{SDKError: base}
	}
}
