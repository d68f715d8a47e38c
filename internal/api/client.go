package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultRequestTimeout = 15 * time.Second

var (
	// ErrMissingBaseURL indicates the client was constructed without a remote address.
	ErrMissingBaseURL = errors.New("api: base url is required")
)

// Result is the discriminated outcome of a remote call. Exactly one of Data
// and Message is meaningful: Data when OK is true, Message otherwise.
// Transport failures, non-2xx statuses and malformed envelopes all surface
// through Message rather than a Go error, so callers branch on OK alone.
type Result struct {
	OK      bool
	Data    json.RawMessage
	Message string
}

// Decode unmarshals the success payload into target.
func (r Result) Decode(target any) error {
	if !r.OK {
		return fmt.Errorf("api: cannot decode failed result: %s", r.Message)
	}
	return json.Unmarshal(r.Data, target)
}

type envelope struct {
	OK      bool            `json:"ok"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// HTTPDoer abstracts the transport so tests can substitute a fake.
type HTTPDoer interface {
	Do(request *http.Request) (*http.Response, error)
}

// ClientConfig carries the dependencies for NewClient.
type ClientConfig struct {
	BaseURL     string
	BearerToken string
	Doer        HTTPDoer
	Logger      *zap.Logger
}

// Client issues requests against the remote drafts API and unwraps the
// {ok, data|message} envelope every endpoint responds with.
type Client struct {
	baseURL string
	token   string
	doer    HTTPDoer
	logger  *zap.Logger
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}

	doer := cfg.Doer
	if doer == nil {
		doer = &http.Client{Timeout: defaultRequestTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL: baseURL,
		token:   strings.TrimSpace(cfg.BearerToken),
		doer:    doer,
		logger:  logger,
	}, nil
}

// Get issues a GET request against path.
func (c *Client) Get(ctx context.Context, path string) Result {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post issues a POST request with a JSON body against path.
func (c *Client) Post(ctx context.Context, path string, body any) Result {
	return c.do(ctx, http.MethodPost, path, body)
}

// Put issues a PUT request with a JSON body against path.
func (c *Client) Put(ctx context.Context, path string, body any) Result {
	return c.do(ctx, http.MethodPut, path, body)
}

// Delete issues a DELETE request against path.
func (c *Client) Delete(ctx context.Context, path string) Result {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any) Result {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return c.failure(method, path, "encode_request", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return c.failure(method, path, "build_request", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.doer.Do(request)
	if err != nil {
		return c.failure(method, path, "transport", err)
	}
	defer response.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return c.failure(method, path, "read_response", err)
	}

	var wrapped envelope
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return c.failure(method, path, "decode_envelope", err)
	}

	if !wrapped.OK {
		message := wrapped.Message
		if message == "" {
			message = fmt.Sprintf("request failed with status %d", response.StatusCode)
		}
		c.logger.Warn("remote api rejected request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", response.StatusCode),
			zap.String("message", message))
		return Result{OK: false, Message: message}
	}

	return Result{OK: true, Data: wrapped.Data}
}

func (c *Client) failure(method, path, reason string, err error) Result {
	c.logger.Warn("remote api call failed",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("reason", reason),
		zap.Error(err))
	return Result{OK: false, Message: fmt.Sprintf("%s: %v", reason, err)}
}
