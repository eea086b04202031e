package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"comic-orchestrator/internal/entity"
	"comic-orchestrator/internal/generation"
	"comic-orchestrator/internal/storage"
)

type fakeModels struct {
	calls  []string
	resp   *genai.GenerateContentResponse
	byName map[string]*genai.GenerateContentResponse
	err    error
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls = append(f.calls, model)
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.byName[model]; ok {
		return r, nil
	}
	return f.resp, nil
}

func imageResponse(data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "here you go"},
				{InlineData: &genai.Blob{Data: data, MIMEType: "image/png"}},
			}},
		}},
	}
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func newTestClient(t *testing.T, models ContentModel, opts Options) (*Client, *storage.FileStore) {
	t.Helper()
	fs, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return New(models, fs, opts, zerolog.Nop()), fs
}

func TestGenerate_StoresImageAndSetsReferenceOnCover(t *testing.T) {
	ctx := context.Background()
	models := &fakeModels{resp: imageResponse([]byte("cover-bytes"))}
	c, fs := newTestClient(t, models, Options{})

	res, err := c.Generate(ctx, generation.Request{JobID: "j1", Target: entity.TargetCover})
	require.NoError(t, err)
	assert.Equal(t, "jobs/j1/pages/cover.png", res.AssetPath)
	assert.Equal(t, res.AssetPath, res.UpdatedReferenceImage)
	assert.Nil(t, res.QA)

	data, err := fs.Get(ctx, res.AssetPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("cover-bytes"), data)
}

func TestGenerate_EditWritesNewRevision(t *testing.T) {
	ctx := context.Background()
	models := &fakeModels{resp: imageResponse([]byte("edited"))}
	c, fs := newTestClient(t, models, Options{})

	_, err := fs.Put(ctx, "jobs/j1/pages/storyPage2.png", []byte("orig"), "image/png")
	require.NoError(t, err)

	res, err := c.Generate(ctx, generation.Request{
		JobID:  "j1",
		Target: entity.TargetStoryPage2,
		Edit:   &generation.EditParams{Instructions: "make it rain", SourceAsset: "jobs/j1/pages/storyPage2.png"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, "jobs/j1/pages/storyPage2.png", res.AssetPath)
	assert.True(t, strings.HasPrefix(res.AssetPath, "jobs/j1/pages/storyPage2-"))
	assert.Empty(t, res.UpdatedReferenceImage)
}

func TestGenerate_BlockedIsValidation(t *testing.T) {
	models := &fakeModels{resp: &genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: "SAFETY"},
	}}
	c, _ := newTestClient(t, models, Options{})

	_, err := c.Generate(context.Background(), generation.Request{JobID: "j1", Target: entity.TargetStoryPage1})
	require.Error(t, err)
	assert.Equal(t, generation.ClassValidation, generation.ClassOf(err))
}

func TestGenerate_QAReview(t *testing.T) {
	models := &fakeModels{
		resp: imageResponse([]byte("page")),
		byName: map[string]*genai.GenerateContentResponse{
			"qa-model": textResponse(`{"ok": false, "issues": ["extra finger"]}`),
		},
	}
	c, _ := newTestClient(t, models, Options{QAModel: "qa-model"})

	res, err := c.Generate(context.Background(), generation.Request{JobID: "j1", Target: entity.TargetStoryPage1})
	require.NoError(t, err)
	require.NotNil(t, res.QA)
	assert.True(t, res.QA.NeedsFix())
	assert.Equal(t, []string{"extra finger"}, res.QA.Issues)
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want generation.Class
	}{
		{genai.APIError{Code: 429, Message: "quota"}, generation.ClassTransient},
		{genai.APIError{Code: 503, Message: "overloaded"}, generation.ClassTransient},
		{genai.APIError{Code: 422, Message: "unprocessable"}, generation.ClassValidation},
		{genai.APIError{Code: 400, Message: "Request blocked by safety filters"}, generation.ClassValidation},
		{genai.APIError{Code: 401, Message: "bad key"}, generation.ClassFatal},
		{context.DeadlineExceeded, generation.ClassTransient},
		{errors.New("resource exhausted"), generation.ClassTransient},
		{errors.New("boom"), generation.ClassFatal},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, generation.ClassOf(classifyError(tc.err)), "err=%v", tc.err)
	}
}

func TestWriteBeats(t *testing.T) {
	beats := `["b1","b2","b3","b4","b5","b6","b7","b8","b9","b10"]`
	c, _ := newTestClient(t, &fakeModels{resp: textResponse("```json\n" + beats + "\n```")}, Options{})

	got, err := c.WriteBeats(context.Background(), entity.Input{})
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Equal(t, "b10", got[9])
}

func TestParseBeats_WrongCount(t *testing.T) {
	_, err := parseBeats(`{"beats": ["only", "two"]}`)
	require.Error(t, err)
}
