package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/LeventeLantos/push-dispatch/internal/model"
)

// PushClient delivers one payload to one device token through an HTTP push
// gateway.
type PushClient struct {
	url     string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

type Option func(*PushClient)

func WithAPIKey(key string) Option {
	return func(c *PushClient) { c.apiKey = key }
}

// WithRateLimit caps outgoing sends per second through Wait. Zero leaves
// sends unlimited.
func WithRateLimit(perSec int) Option {
	return func(c *PushClient) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *PushClient) { c.client.Timeout = d }
}

func NewPushClient(url string, opts ...Option) *PushClient {
	c := &PushClient{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type sendRequest struct {
	Token        string            `json:"token"`
	Notification notification      `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SendError is a rejection reported by the gateway.
type SendError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("push gateway rejected send: status=%d code=%s message=%q", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("push gateway rejected send: status=%d body=%q", e.StatusCode, e.Body)
}

func (e *SendError) ErrorCode() string { return e.Code }
func (e *SendError) HTTPStatus() int   { return e.StatusCode }

// Wait blocks until the rate limit allows one more send. Send itself does not
// wait, so callers can bound the gateway call separately from the queueing.
func (c *PushClient) Wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *PushClient) Send(ctx context.Context, token string, payload model.Payload) (string, error) {
	reqBody, err := json.Marshal(sendRequest{
		Token:        token,
		Notification: notification{Title: payload.Title, Body: payload.Body},
		Data:         payload.Data,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &SendError{StatusCode: resp.StatusCode, Body: string(body)}
		var er errorResponse
		if json.Unmarshal(body, &er) == nil {
			se.Code = er.Error.Code
			se.Message = er.Error.Message
		}
		return "", se
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if sr.MessageID == "" {
		return "", fmt.Errorf("missing messageId in response body=%q", string(body))
	}

	return sr.MessageID, nil
}
