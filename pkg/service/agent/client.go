package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/utils/retry"
	"github.com/secmon-lab/asclepius/pkg/utils/safe"
)

const (
	DefaultHealthTimeout = 5 * time.Second
	DefaultChatTimeout   = 60 * time.Second
	DefaultEmbedTimeout  = 30 * time.Second

	maxErrorBody = 512
)

var (
	// ErrUnreachable covers connection failures, timeouts and 5xx/429 responses
	ErrUnreachable = errors.New("agent unreachable")
	// ErrUnauthorized is returned for 401 and 403 responses
	ErrUnauthorized = errors.New("agent rejected credential")
	// ErrBadResponse is returned for other non-2xx responses and undecodable bodies
	ErrBadResponse = errors.New("agent returned bad response")
)

// EmbedRequest is the body of POST /embed
type EmbedRequest struct {
	Text      string `json:"text"`
	Normalize bool   `json:"normalize"`
}

// EmbedResponse is returned by POST /embed
type EmbedResponse struct {
	Embedding      []float32 `json:"embedding"`
	Dimensions     int       `json:"dimensions"`
	Model          string    `json:"model"`
	ProcessingTime float64   `json:"processing_time"`
}

// Client calls the remote agent's health, chat and embed endpoints.
// The endpoint is passed per call because each owner's session may point elsewhere.
type Client struct {
	httpClient    *http.Client
	healthTimeout time.Duration
	chatTimeout   time.Duration
	embedTimeout  time.Duration
}

var _ interfaces.AgentClient = &Client{}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

func WithHealthTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.healthTimeout = d
	}
}

func WithChatTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.chatTimeout = d
	}
}

func WithEmbedTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.embedTimeout = d
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		httpClient:    &http.Client{},
		healthTimeout: DefaultHealthTimeout,
		chatTimeout:   DefaultChatTimeout,
		embedTimeout:  DefaultEmbedTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health calls GET {endpoint}/health
func (c *Client) Health(ctx context.Context, endpoint string) (*interfaces.AgentHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	var resp interfaces.AgentHealth
	if err := c.do(ctx, http.MethodGet, endpoint, "/health", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Chat calls POST {endpoint}/chat as the caller. Streaming is always disabled.
func (c *Client) Chat(ctx context.Context, endpoint string, caller model.Caller, req *interfaces.AgentChatRequest) (*interfaces.AgentChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.chatTimeout)
	defer cancel()

	body := *req
	body.Stream = false
	if body.History == nil {
		body.History = []model.HistoryMessage{}
	}

	var resp interfaces.AgentChatResponse
	if err := c.do(ctx, http.MethodPost, endpoint, "/chat", caller.Token, &body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Embed calls POST {endpoint}/embed as the caller. The returned vector is not validated here.
func (c *Client) Embed(ctx context.Context, endpoint string, caller model.Caller, text string) (*EmbedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.embedTimeout)
	defer cancel()

	var resp EmbedResponse
	req := &EmbedRequest{Text: text, Normalize: true}
	if err := c.do(ctx, http.MethodPost, endpoint, "/embed", caller.Token, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, path string, token model.BearerToken, reqBody, respBody any) error {
	if endpoint == "" {
		return goerr.Wrap(ErrUnreachable, "agent endpoint is not set")
	}
	url := strings.TrimSuffix(endpoint, "/") + path

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal agent request", goerr.V("url", url))
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return goerr.Wrap(err, "failed to create agent request", goerr.V("url", url))
	}
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+string(token))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return goerr.Wrap(errors.Join(ErrUnreachable, err), "failed to call agent", goerr.V("url", url))
	}
	defer safe.CloseBody(ctx, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		vals := []goerr.Option{goerr.V("url", url), goerr.V("status", resp.StatusCode), goerr.V("body", string(snippet))}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return goerr.Wrap(ErrUnauthorized, "agent rejected request", vals...)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return goerr.Wrap(retry.MarkTransient(ErrUnreachable), "agent returned server error", vals...)
		default:
			return goerr.Wrap(ErrBadResponse, "agent returned error status", vals...)
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return goerr.Wrap(errors.Join(ErrUnreachable, err), "agent response timed out", goerr.V("url", url))
		}
		return goerr.Wrap(errors.Join(ErrBadResponse, err), "failed to decode agent response", goerr.V("url", url))
	}

	return nil
}
