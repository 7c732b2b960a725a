// Package oracle is the client for the decision oracle: an
// OpenAI-compatible vision model that proposes actions, judges step
// outcomes, and triages interruptions. The engine treats it as a remote
// dependency; every call is synchronous and rate limited.
package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/logger"
)

// Options configure the oracle client.
type Options struct {
	// Endpoint is the base URL of the OpenAI-compatible API, up to and
	// including the /v1 segment.
	Endpoint string

	// APIKey is sent as a Bearer token when set. Local servers usually
	// run without one.
	APIKey string

	// Model is the chat model name. It must accept image_url content.
	Model string

	// Timeout bounds one full request/response round trip. Vision
	// models routinely take tens of seconds.
	Timeout time.Duration

	// MaxTokens caps completions when positive. Zero lets the server
	// decide.
	MaxTokens int

	// MaxXMLChars truncates snapshot XML before it enters a prompt.
	MaxXMLChars int

	// RequestsPerMinute throttles calls client-side. Model APIs are
	// quota-bound; a runaway recovery loop must not exhaust them.
	RequestsPerMinute int
}

// DefaultOptions returns defaults matching a local vision model server.
func DefaultOptions() Options {
	return Options{
		Endpoint:          "http://localhost:11434/v1",
		Model:             "qwen2.5-vl-7b-instruct",
		Timeout:           180 * time.Second,
		MaxXMLChars:       120000,
		RequestsPerMinute: 30,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Endpoint == "" {
		o.Endpoint = def.Endpoint
	}
	if o.Model == "" {
		o.Model = def.Model
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.MaxXMLChars <= 0 {
		o.MaxXMLChars = def.MaxXMLChars
	}
	if o.RequestsPerMinute <= 0 {
		o.RequestsPerMinute = def.RequestsPerMinute
	}
	return o
}

// Client talks to one oracle endpoint. Safe for concurrent use; the
// limiter serializes bursts.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// New creates an oracle client.
func New(opts Options, log *logger.Logger) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts:    opts,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerMinute)/60, 1),
		log:     log.WithComponent("oracle"),
	}
}

// Options returns the effective options after defaulting.
func (c *Client) Options() Options {
	return c.opts
}

// Chat wire types. Content is always a part list so text and image
// blocks mix freely.
type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func textPart(s string) contentPart {
	return contentPart{Type: "text", Text: s}
}

func imagePart(dataURL string) contentPart {
	return contentPart{Type: "image_url", ImageURL: &imageURL{URL: dataURL}}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// chat sends one completion request and returns the first choice's text.
func (c *Client) chat(messages []chatMessage, temperature float64, maxTokens int) (string, error) {
	if err := c.limiter.Wait(context.Background()); err != nil {
		return "", err
	}

	payload, err := json.Marshal(chatRequest{
		Model:       c.opts.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.opts.Endpoint, "/") + "/chat/completions"
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", core.ErrOracleUnreachable.WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", core.ErrOracleUnreachable.WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", core.ErrOracleUnreachable.WithMessage(
			fmt.Sprintf("oracle returned status %d: %s", resp.StatusCode, excerpt(string(body), 200)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", core.ErrOracleResponse.WithCause(err)
	}
	if len(parsed.Choices) == 0 {
		return "", core.ErrOracleResponse.WithMessage("oracle returned no choices")
	}

	c.log.Debug("oracle call complete", map[string]interface{}{
		"elapsed":       time.Since(start).String(),
		"finish_reason": parsed.Choices[0].FinishReason,
	})
	return parsed.Choices[0].Message.Content, nil
}

// encodeScreenshot reads a PNG from disk into an image_url data URL. An
// empty path yields an empty URL, and the caller omits the image block.
func encodeScreenshot(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read screenshot: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// trimXML caps snapshot XML at MaxXMLChars, keeping the head. Page
// sources order chrome before content, so the head carries the dialogs
// and controls the oracle needs.
func (c *Client) trimXML(xml string) string {
	if len(xml) <= c.opts.MaxXMLChars {
		return xml
	}
	return xml[:c.opts.MaxXMLChars]
}

// excerpt truncates s for log lines and error messages.
func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
