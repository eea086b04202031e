package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"comic-orchestrator/internal/entity"
	"comic-orchestrator/internal/generation"
	"comic-orchestrator/internal/storage"
)

// Generate renders one page (or regenerates it when req.Edit is set) and
// stores the image, returning its storage key.
func (c *Client) Generate(ctx context.Context, req generation.Request) (*generation.Result, error) {
	parts := []*genai.Part{genai.NewPartFromText(pagePrompt(req))}

	images := []struct {
		label string
		key   string
	}{
		{"source page to edit", editSource(req)},
		{"character reference", req.ReferenceImage},
		{"previous page for continuity", req.PreviousPageImage},
	}
	for _, img := range images {
		if img.key == "" {
			continue
		}
		data, err := c.store.Get(ctx, img.key)
		if err != nil {
			return nil, generation.Fatal(fmt.Errorf("load %s %s: %w", img.label, img.key, err))
		}
		parts = append(parts,
			genai.NewPartFromText(img.label+":"),
			genai.NewPartFromBytes(data, mimeFromKey(img.key)),
		)
	}

	resp, err := c.models.GenerateContent(ctx, c.opts.ImageModel,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	)
	if err != nil {
		return nil, classifyError(err)
	}
	if reason := blockedReason(resp); reason != "" {
		return nil, generation.Validation(errors.New(reason))
	}

	data, mime := responseImage(resp)
	if len(data) == 0 {
		return nil, generation.Validation(fmt.Errorf("no image returned for %s", req.Target))
	}

	revision := ""
	if req.Edit != nil {
		revision = uuid.NewString()[:8]
	}
	key := storage.PageKey(req.JobID, req.Target.String(), revision, storage.ExtensionForMIME(mime))
	path, err := c.store.Put(ctx, key, data, mime)
	if err != nil {
		return nil, generation.Transient(err)
	}

	res := &generation.Result{AssetPath: path}
	if req.Target == entity.TargetCover && req.Edit == nil {
		// The cover fixes the character's look for the rest of the book.
		res.UpdatedReferenceImage = path
	}
	if c.opts.QAModel != "" && req.Edit == nil {
		res.QA = c.review(ctx, req, data, mime)
	}
	return res, nil
}

// review asks a text model to check the page. Review failures never fail the
// page; they just yield no verdict.
func (c *Client) review(ctx context.Context, req generation.Request, data []byte, mime string) *generation.QAVerdict {
	prompt := fmt.Sprintf(
		"You are checking an illustrated children's book page (%s). The hero is %s. "+
			"Reply with JSON {\"ok\": bool, \"issues\": [string]} listing visible defects such as "+
			"garbled text, extra limbs or a hero who does not match the reference.",
		req.Target, req.Hero.Name)

	resp, err := c.models.GenerateContent(ctx, c.opts.QAModel,
		[]*genai.Content{genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(data, mime),
		}, genai.RoleUser)},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		c.logger.Warn().Err(err).Str("target", req.Target.String()).Msg("gemini: qa review failed")
		return nil
	}
	var v generation.QAVerdict
	if err := json.Unmarshal([]byte(responseText(resp)), &v); err != nil {
		c.logger.Warn().Err(err).Str("target", req.Target.String()).Msg("gemini: qa verdict not json")
		return nil
	}
	return &v
}

func editSource(req generation.Request) string {
	if req.Edit == nil {
		return ""
	}
	return req.Edit.SourceAsset
}

func pagePrompt(req generation.Request) string {
	var b strings.Builder
	switch req.Target {
	case entity.TargetCover:
		fmt.Fprintf(&b, "Illustrate the front cover of a comic book titled %q.", req.Story.Title)
	case entity.TargetBackCover:
		fmt.Fprintf(&b, "Illustrate the back cover of the comic book %q.", req.Story.Title)
	default:
		fmt.Fprintf(&b, "Illustrate page %d of the comic book %q as %d panels stacked top to bottom.",
			req.Target.StoryNumber(), req.Story.Title, req.PanelCount)
		if req.Beat != "" {
			fmt.Fprintf(&b, "\nPage beat:\n%s", req.Beat)
		}
	}
	fmt.Fprintf(&b, "\nHero: %s", req.Hero.Name)
	if req.Hero.Age > 0 {
		fmt.Fprintf(&b, ", age %d", req.Hero.Age)
	}
	if req.Hero.Description != "" {
		fmt.Fprintf(&b, ", %s", req.Hero.Description)
	}
	fmt.Fprintf(&b, "\nStory: %s", req.Story.Description)
	if req.Style != "" {
		fmt.Fprintf(&b, "\nArt style: %s", req.Style)
	}
	if req.Language != "" {
		fmt.Fprintf(&b, "\nAll lettering must be in %s.", req.Language)
	}

	if e := req.Edit; e != nil {
		b.WriteString("\n\nEdit the source page instead of drawing a new one.")
		if !e.Region.IsWhole() {
			fmt.Fprintf(&b, " Only change panel %d of %d, the band from %.0f%% to %.0f%% of the page height; keep everything else identical.",
				e.Region.Panel, e.Region.Of, e.Region.Top*100, e.Region.Bottom*100)
		}
		if e.Minimal {
			fmt.Fprintf(&b, " Make the smallest change that fixes: %s.", strings.Join(e.Issues, "; "))
		}
		if e.Instructions != "" {
			fmt.Fprintf(&b, "\nInstructions: %s", e.Instructions)
		}
	}
	return b.String()
}

func mimeFromKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".jpg"), strings.HasSuffix(key, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(key, ".webp"):
		return "image/webp"
	default:
		return "image/png"
	}
}
