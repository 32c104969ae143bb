// Package llm provides the Anthropic-backed language model client used by
// the auditor and the strategy explorer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/logging"
	"github.com/RyanSeanPhillips/LabIndex-sub000/internal/types"
)

const maxTokens = 4096

// ErrLLMUnavailable is returned when the client has no API key. Callers
// branch to rule-based fallbacks on it.
var ErrLLMUnavailable = errors.New("llm client not configured")

// Client implements types.LLMClient over the Anthropic Messages API.
type Client struct {
	client  anthropic.Client
	apiKey  string
	model   string
	timeout time.Duration
}

var _ types.LLMClient = (*Client)(nil)

// New builds a client. An empty API key yields an unavailable client; the
// callers' rule-based fallbacks then apply.
func New(apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{apiKey: apiKey, model: model, timeout: timeout}
	if apiKey != "" {
		c.client = anthropic.NewClient(option.WithAPIKey(apiKey))
	}
	return c
}

// Available reports whether the client holds an API key.
func (c *Client) Available() bool {
	return c != nil && c.apiKey != ""
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Complete sends a single user prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a system prompt alongside the user prompt and
// returns the first text block of the reply. The configured timeout is
// applied when the context carries no deadline.
func (c *Client) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	if !c.Available() {
		return "", ErrLLMUnavailable
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			logging.Get(logging.CategoryAPI).Debug("completion: %d bytes in, %d bytes out, %s",
				len(system)+len(user), len(block.Text), time.Since(start))
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}

// ExtractJSON strips markdown code fences from a model reply, returning
// the inner JSON payload.
func ExtractJSON(reply string) string {
	text := strings.TrimSpace(reply)
	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
	} else if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+len("```"):]
	} else {
		return text
	}
	if j := strings.Index(text, "```"); j >= 0 {
		text = text[:j]
	}
	return strings.TrimSpace(text)
}
