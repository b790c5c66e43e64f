package provider

import (
	"context"
	"net/http"
)

type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

type Response struct {
	ID           string
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
}

// Client talks to one upstream with one credential baked in.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Name() string
}

// ClientConfig is everything needed to build a Client for one credential.
type ClientConfig struct {
	APIKey     string
	BaseURL    string // empty selects the provider default
	HTTPClient *http.Client
}

// Factory builds a Client. Implementations must not perform network IO.
type Factory func(cfg ClientConfig) Client

func (c ClientConfig) Doer() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c ClientConfig) URL(fallback string) string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return fallback
}
