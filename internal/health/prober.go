package health

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"keypool/internal/models"
)

const (
	DefaultUpstreamURL = "https://api.openai.com/v1"
	DefaultProbeModel  = openai.GPT4oMini
	probePrompt        = "hi"
	probeMaxTokens     = 10
)

// Prober verifies that a credential is accepted upstream
type Prober interface {
	Probe(ctx context.Context, key *models.APIKey) error
}

// OpenAIProber issues a minimal chat completion with the key's secret,
// User-Agent and proxy
type OpenAIProber struct {
	baseURL string
	model   string
}

// NewOpenAIProber creates a prober for an OpenAI-compatible endpoint
func NewOpenAIProber(baseURL, model string) *OpenAIProber {
	if baseURL == "" {
		baseURL = DefaultUpstreamURL
	}
	if model == "" {
		model = DefaultProbeModel
	}
	return &OpenAIProber{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
	}
}

// Probe sends the request; any error means the key failed the check
func (p *OpenAIProber) Probe(ctx context.Context, key *models.APIKey) error {
	transport, err := newTransport(key.ProxyAddress())
	if err != nil {
		return err
	}
	defer transport.CloseIdleConnections()

	cfg := openai.DefaultConfig(key.Secret)
	cfg.BaseURL = p.baseURL
	cfg.HTTPClient = &http.Client{
		Transport: &userAgentTransport{base: transport, userAgent: key.UserAgent},
	}

	client := openai.NewClientWithConfig(cfg)
	_, err = client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: probePrompt},
		},
		MaxTokens: probeMaxTokens,
	})
	return err
}

// newTransport builds a transport routed through proxy. http, https and
// socks5 proxies are handled by net/http itself.
func newTransport(proxy string) (*http.Transport, error) {
	transport := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if proxy == "" {
		return transport, nil
	}

	proxyURL, err := url.Parse(proxy)
	if err != nil || proxyURL.Host == "" {
		return nil, fmt.Errorf("invalid proxy %q", proxy)
	}
	switch proxyURL.Scheme {
	case "http", "https", "socks5":
		transport.Proxy = http.ProxyURL(proxyURL)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}
	return transport, nil
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}
