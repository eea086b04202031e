package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"comic-orchestrator/internal/entity"
	"comic-orchestrator/internal/generation"
)

const beatsInstruction = `Split the story into exactly %d beats, one per comic page.
Each beat is one short paragraph followed by its panels, one per line, written as
"a) ...", "b) ..." and so on, between 3 and 5 panels.
Reply with a JSON array of %d strings and nothing else.`

// WriteBeats decomposes the story into one beat per interior page.
func (c *Client) WriteBeats(ctx context.Context, in entity.Input) ([]string, error) {
	prompt := fmt.Sprintf("Title: %s\nHero: %s\nStory: %s\nTheme: %s\nLanguage: %s",
		in.Story.Title, in.Hero.Name, in.Story.Description, in.Story.Theme, in.Language)

	resp, err := c.models.GenerateContent(ctx, c.opts.TextModel,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(
				fmt.Sprintf(beatsInstruction, entity.StoryPageCount, entity.StoryPageCount), genai.RoleUser),
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return nil, classifyError(err)
	}
	if reason := blockedReason(resp); reason != "" {
		return nil, generation.Validation(errors.New(reason))
	}
	return parseBeats(responseText(resp))
}

// parseBeats accepts either a bare JSON array or {"beats": [...]}.
func parseBeats(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var beats []string
	if err := json.Unmarshal([]byte(text), &beats); err != nil {
		var wrapped struct {
			Beats []string `json:"beats"`
		}
		if err2 := json.Unmarshal([]byte(text), &wrapped); err2 != nil {
			return nil, fmt.Errorf("decode beats: %w", err)
		}
		beats = wrapped.Beats
	}
	if len(beats) != entity.StoryPageCount {
		return nil, fmt.Errorf("expected %d beats, got %d", entity.StoryPageCount, len(beats))
	}
	for i, b := range beats {
		if strings.TrimSpace(b) == "" {
			return nil, fmt.Errorf("beat %d is empty", i+1)
		}
	}
	return beats, nil
}
