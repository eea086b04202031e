// Package gemini implements page generation and beat writing on top of
// google.golang.org/genai.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"comic-orchestrator/internal/generation"
	"comic-orchestrator/internal/storage"
)

// ContentModel is the part of genai.Models the provider calls.
type ContentModel interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Options struct {
	ImageModel string
	TextModel  string
	// QAModel enables a quality review of every fresh page when set.
	QAModel string
}

type Client struct {
	models ContentModel
	store  storage.Store
	opts   Options
	logger zerolog.Logger
}

// NewClient dials the Gemini API with an API key.
func NewClient(ctx context.Context, apiKey string, store storage.Store, opts Options, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return New(gc.Models, store, opts, logger), nil
}

// New wraps an existing model client, mainly so tests can pass a fake.
func New(models ContentModel, store storage.Store, opts Options, logger zerolog.Logger) *Client {
	if opts.ImageModel == "" {
		opts.ImageModel = "gemini-2.5-flash-image"
	}
	if opts.TextModel == "" {
		opts.TextModel = "gemini-2.5-flash"
	}
	return &Client{models: models, store: store, opts: opts, logger: logger}
}

var (
	_ generation.Generator  = (*Client)(nil)
	_ generation.BeatWriter = (*Client)(nil)
)

// classifyError maps SDK failures to generation classes.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return generation.Transient(err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError:
			return generation.Transient(err)
		case apiErr.Code == http.StatusUnprocessableEntity:
			return generation.Validation(err)
		case apiErr.Code == http.StatusBadRequest && mentionsSafety(apiErr.Message):
			return generation.Validation(err)
		default:
			return generation.Fatal(err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "resource exhausted"),
		strings.Contains(msg, "unavailable"), strings.Contains(msg, "deadline"):
		return generation.Transient(err)
	case mentionsSafety(msg):
		return generation.Validation(err)
	default:
		return generation.Fatal(err)
	}
}

func mentionsSafety(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "safety") || strings.Contains(msg, "blocked") || strings.Contains(msg, "prohibited")
}

// blockedReason reports why a response carries no usable content, if it was
// refused by the service.
func blockedReason(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "prompt blocked: " + string(resp.PromptFeedback.BlockReason)
	}
	for _, c := range resp.Candidates {
		if c == nil {
			continue
		}
		switch c.FinishReason {
		case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
			return "candidate blocked: " + string(c.FinishReason)
		}
	}
	return ""
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p != nil && p.Text != "" {
				b.WriteString(p.Text)
			}
		}
		break
	}
	return b.String()
}

func responseImage(resp *genai.GenerateContentResponse) ([]byte, string) {
	if resp == nil {
		return nil, ""
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
				return p.InlineData.Data, p.InlineData.MIMEType
			}
		}
	}
	return nil, ""
}
