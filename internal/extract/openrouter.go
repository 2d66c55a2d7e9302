package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jun/invoicescout/internal/retry"
)

const (
	defaultMaxTokens   = 1000
	defaultTemperature = 0.1
	maxErrorBody       = 2048
)

// Config describes how to reach the extraction service.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Referer     string
	Title       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32
}

func (c Config) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return defaultMaxTokens
}

func (c Config) temperature() float32 {
	if c.Temperature > 0 {
		return c.Temperature
	}
	return defaultTemperature
}

// Document is the content submitted for one extraction.
type Document struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Completer submits a document with the invoice prompt and returns the raw
// textual reply.
type Completer interface {
	Complete(ctx context.Context, doc Document) (string, error)
}

// StatusError is a non-2xx reply from the extraction service.
type StatusError struct {
	StatusCode int
	Body       string
	After      time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("extraction service: status %d", e.StatusCode)
	}
	return fmt.Sprintf("extraction service: status %d: %s", e.StatusCode, e.Body)
}

// RetryAfter returns the delay the service requested with Retry-After.
func (e *StatusError) RetryAfter() time.Duration {
	return e.After
}

var errEmptyCompletion = errors.New("extraction service returned no content")

// OpenRouterTransport posts chat completions directly so PDF bytes can be
// attached as a file content part.
type OpenRouterTransport struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

// NewOpenRouterTransport builds the raw transport. A nil httpClient gets one
// bounded by cfg.Timeout.
func NewOpenRouterTransport(cfg Config, httpClient *http.Client) *OpenRouterTransport {
	return &OpenRouterTransport{
		cfg:        cfg,
		httpClient: serviceHTTPClient(cfg, httpClient),
		now:        time.Now,
	}
}

type completionRequest struct {
	Model       string              `json:"model"`
	Messages    []completionMessage `json:"messages"`
	Temperature float32             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
}

type completionMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type string    `json:"type"`
	Text string    `json:"text,omitempty"`
	File *filePart `json:"file,omitempty"`
}

type filePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Text string `json:"text"`
	} `json:"choices"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends doc as a base64 data URL next to the invoice prompt.
func (t *OpenRouterTransport) Complete(ctx context.Context, doc Document) (string, error) {
	mimeType := doc.MIMEType
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	payload := completionRequest{
		Model: t.cfg.Model,
		Messages: []completionMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: InvoicePrompt},
				{Type: "file", File: &filePart{
					Filename: doc.Name,
					FileData: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(doc.Data),
				}},
			},
		}},
		Temperature: t.cfg.temperature(),
		MaxTokens:   t.cfg.maxTokens(),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	endpoint := strings.TrimRight(t.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("new completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		se := &StatusError{StatusCode: resp.StatusCode, Body: snippet(string(truncate(body, maxErrorBody)))}
		if after, ok := retry.ParseRetryAfter(resp.Header.Get("Retry-After"), t.now()); ok {
			se.After = after
		}
		return "", se
	}

	var completion completionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("decode completion response: %w (snippet: %s)", err, snippet(string(body)))
	}
	// OpenRouter reports upstream provider failures inside a 200 body.
	if completion.Error != nil {
		code := completion.Error.Code
		if code == 0 {
			code = http.StatusBadGateway
		}
		return "", &StatusError{StatusCode: code, Body: completion.Error.Message}
	}
	for _, choice := range completion.Choices {
		if content := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text); content != "" {
			return content, nil
		}
	}
	return "", errEmptyCompletion
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// headerTransport adds the OpenRouter attribution headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (h *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if h.referer == "" && h.title == "" {
		return h.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	if h.referer != "" {
		req.Header.Set("HTTP-Referer", h.referer)
	}
	if h.title != "" {
		req.Header.Set("X-Title", h.title)
	}
	return h.base.RoundTrip(req)
}

func serviceHTTPClient(cfg Config, base *http.Client) *http.Client {
	client := &http.Client{Timeout: cfg.Timeout}
	var rt http.RoundTripper = http.DefaultTransport
	if base != nil {
		if base.Transport != nil {
			rt = base.Transport
		}
		if base.Timeout > 0 {
			client.Timeout = base.Timeout
		}
	}
	client.Transport = &headerTransport{base: rt, referer: cfg.Referer, title: cfg.Title}
	return client
}
