package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var (
	// ErrMissingAPIKey is returned when no API key is available for a call.
	ErrMissingAPIKey = errors.New("llm: api key not configured")
	// ErrEmptyResponse is returned when the completion carries no choices.
	ErrEmptyResponse = errors.New("llm: empty completion")
	// ErrUnauthorized is returned when the endpoint rejects the supplied key.
	ErrUnauthorized = errors.New("llm: api key rejected")
)

// Message is a minimal chat message used by the diagnosis adapter.
// Role must be one of: "system", "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

// Client sends a chat to an LLM and returns the assistant's reply.  The API
// key is supplied per call so each session may carry its own credential.
type Client interface {
	Chat(ctx context.Context, apiKey string, messages []Message) (string, error)
}

// BreakerConfig controls the circuit breaker around completions.
type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// Config describes an OpenAI-compatible chat completion endpoint.
type Config struct {
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Temperature       float32       `mapstructure:"temperature"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

// OpenAIClient calls an OpenAI-compatible chat completion API.  Calls are
// rate limited and guarded by a circuit breaker.
type OpenAIClient struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        *logrus.Logger
}

// NewOpenAIClient constructs an OpenAI-backed LLM client and falls back to
// sensible defaults for anything left unset.
func NewOpenAIClient(cfg Config, logger *logrus.Logger) *OpenAIClient {
	if cfg.Model == "" {
		// default to a modern small model; can be overridden via config
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	if cfg.Breaker.MaxRequests == 0 {
		cfg.Breaker.MaxRequests = 1
	}
	if cfg.Breaker.Timeout == 0 {
		cfg.Breaker.Timeout = 30 * time.Second
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}

	settings := gobreaker.Settings{
		Name:        "diagnosis-oracle",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker:    gobreaker.NewCircuitBreaker(settings),
		log:        logger,
	}
}

// Chat sends the message history to the chat completion API and returns the
// assistant's response.
func (c *OpenAIClient) Chat(ctx context.Context, apiKey string, messages []Message) (string, error) {
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	// Convert to OpenAI message type
	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.newClient(apiKey).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.cfg.Model,
			Messages:    oaMsgs,
			Temperature: c.cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		c.log.WithError(err).WithField("model", c.cfg.Model).Warn("Chat completion failed")
		if code := statusCode(err); code == http.StatusUnauthorized || code == http.StatusForbidden {
			return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}

	resp := result.(openai.ChatCompletionResponse)
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) newClient(apiKey string) *openai.Client {
	conf := openai.DefaultConfig(apiKey)
	if c.cfg.BaseURL != "" {
		conf.BaseURL = c.cfg.BaseURL
	}
	conf.HTTPClient = c.httpClient
	return openai.NewClientWithConfig(conf)
}

// countsAsHealthy reports whether err says nothing about the endpoint's
// health.  The breaker is shared by every session, so a rejected key, a
// malformed request or a caller hanging up must not open it for the others.
func countsAsHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch statusCode(err) {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// statusCode extracts the HTTP status from an API error, or 0.
func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
