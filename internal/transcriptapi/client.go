package transcriptapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL     = "https://api.supadata.ai/v1"
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 4096
)

// Config captures the runtime settings required to talk to the API.
type Config struct {
	APIKey         string
	BaseURL        string
	TimeoutSeconds int
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithClock overrides the clock used to resolve HTTP-date Retry-After values.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = DefaultBaseURL
	}
	return client
}

// Transcript is a plain text transcript returned by the API.
type Transcript struct {
	Content        string   `json:"content"`
	Lang           string   `json:"lang"`
	AvailableLangs []string `json:"availableLangs"`
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	return fmt.Sprintf("transcript api: http %d: %s", e.StatusCode, strings.TrimSpace(msg))
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// FetchTranscript requests the plain text transcript of one video.
func (c *Client) FetchTranscript(ctx context.Context, videoURL, lang string) (Transcript, error) {
	var out Transcript
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return out, errors.New("transcript api: api key required")
	}
	if strings.TrimSpace(videoURL) == "" {
		return out, errors.New("transcript api: video url required")
	}

	endpoint, err := url.JoinPath(c.cfg.BaseURL, "youtube", "transcript")
	if err != nil {
		return out, fmt.Errorf("transcript api: build url: %w", err)
	}
	q := url.Values{}
	q.Set("url", videoURL)
	q.Set("text", "true")
	if strings.TrimSpace(lang) != "" {
		q.Set("lang", strings.TrimSpace(lang))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return out, fmt.Errorf("transcript api: new request: %w", err)
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("transcript api: http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
			statusErr.Code = strings.TrimSpace(eb.Error)
			statusErr.Message = strings.TrimSpace(eb.Message + " " + eb.Details)
		}
		return out, statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("transcript api: decode response: %w", err)
	}
	out.Content = strings.TrimSpace(out.Content)
	return out, nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	when, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	delay := when.Sub(now)
	if delay < 0 {
		return 0, true
	}
	return delay, true
}
