package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/webtoonlab/panelgen/internal/domain"
	"github.com/webtoonlab/panelgen/internal/generation"
)

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: content}},
	}
}

func TestExtractResponseText(t *testing.T) {
	t.Parallel()

	t.Run("concatenates candidate parts", func(t *testing.T) {
		t.Parallel()

		text, err := extractResponseText(textResponse(`{"panels":`, `[]}`))
		require.NoError(t, err)
		assert.Equal(t, `{"panels":[]}`, text)
	})

	t.Run("nil response", func(t *testing.T) {
		t.Parallel()

		_, err := extractResponseText(nil)
		assert.ErrorIs(t, err, generation.ErrInvalidResponse)
	})

	t.Run("no candidates", func(t *testing.T) {
		t.Parallel()

		_, err := extractResponseText(&genai.GenerateContentResponse{})
		assert.ErrorIs(t, err, generation.ErrInvalidResponse)
	})

	t.Run("safety stop is content blocked", func(t *testing.T) {
		t.Parallel()

		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		}
		_, err := extractResponseText(resp)
		assert.ErrorIs(t, err, generation.ErrContentBlocked)
	})

	t.Run("empty content", func(t *testing.T) {
		t.Parallel()

		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{Content: &genai.Content{}}},
		}
		_, err := extractResponseText(resp)
		assert.ErrorIs(t, err, generation.ErrInvalidResponse)
	})

	t.Run("no text in parts", func(t *testing.T) {
		t.Parallel()

		_, err := extractResponseText(textResponse(""))
		assert.ErrorIs(t, err, generation.ErrInvalidResponse)
	})
}

func TestBuildImagePrompt(t *testing.T) {
	t.Parallel()

	t.Run("scene only", func(t *testing.T) {
		t.Parallel()

		prompt := buildImagePrompt(domain.PanelSpec{
			SceneDescription: "a lighthouse at dusk",
		})
		assert.Equal(t, "a lighthouse at dusk", prompt)
	})

	t.Run("full art direction", func(t *testing.T) {
		t.Parallel()

		prompt := buildImagePrompt(domain.PanelSpec{
			SceneDescription: "a lighthouse at dusk",
			Mood:             "ominous",
			ArtStyle:         "noir",
			DialogueLines:    []string{"It's coming.", "Hold the light."},
		})
		assert.Equal(t,
			"a lighthouse at dusk, mood: ominous, art style: noir. Characters are saying: It's coming. / Hold the light.",
			prompt)
	})
}
