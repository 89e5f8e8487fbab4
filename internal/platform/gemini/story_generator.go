package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"text/template"

	"google.golang.org/genai"

	"github.com/webtoonlab/panelgen/internal/domain"
	"github.com/webtoonlab/panelgen/internal/generation"
)

// storyPromptTemplate shapes the decomposition request. The model is asked
// for strict JSON so the response can be unmarshalled directly.
const storyPromptTemplate = `You are a webtoon storyboard writer.
Break the following story into exactly {{.PanelCount}} sequential panels.

Story:
{{.Prompt}}

Respond with JSON only, no prose, in this shape:
{"panels":[{"title":"...","scene_description":"...","mood":"...","dialogue_lines":["..."]}]}

Each scene_description must be a self-contained visual description of a
single moment, suitable as an image generation prompt.`

type storyPromptData struct {
	Prompt     string
	PanelCount int
}

type decompositionPayload struct {
	Panels []struct {
		Title            string   `json:"title"`
		SceneDescription string   `json:"scene_description"`
		Mood             string   `json:"mood"`
		DialogueLines    []string `json:"dialogue_lines"`
	} `json:"panels"`
}

// StoryGenerator implements generation.StoryGenerator using a Gemini text
// model.
type StoryGenerator struct {
	client   *genai.Client
	model    string
	template *template.Template
	logger   *slog.Logger
}

// NewStoryGenerator creates a StoryGenerator for the given model.
func NewStoryGenerator(client *genai.Client, model string, logger *slog.Logger) (*StoryGenerator, error) {
	if client == nil {
		return nil, fmt.Errorf("gemini client cannot be nil")
	}
	if model == "" {
		return nil, fmt.Errorf("story model name cannot be empty")
	}

	tmpl, err := template.New("story").Parse(storyPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse story prompt template: %w", err)
	}

	return &StoryGenerator{
		client:   client,
		model:    model,
		template: tmpl,
		logger:   logger.With("component", "gemini_story_generator", "model", model),
	}, nil
}

// DecomposeStory performs a single decomposition call against the model.
func (g *StoryGenerator) DecomposeStory(
	ctx context.Context,
	prompt string,
	panelCountHint int,
) ([]domain.PanelSpec, error) {
	if prompt == "" {
		return nil, fmt.Errorf("%w: story prompt cannot be empty", generation.ErrInvalidInput)
	}

	var buf bytes.Buffer
	err := g.template.Execute(&buf, storyPromptData{Prompt: prompt, PanelCount: panelCountHint})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build prompt: %v", generation.ErrInvalidInput, err)
	}

	g.logger.DebugContext(ctx, "calling story decomposition model",
		"prompt_length", buf.Len(),
		"panel_count_hint", panelCountHint)

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(buf.String()),
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"})
	if err != nil {
		return nil, classifyProviderError(err)
	}

	text, err := extractResponseText(resp)
	if err != nil {
		return nil, err
	}

	var payload decompositionPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("%w: failed to parse decomposition JSON: %v",
			generation.ErrInvalidResponse, err)
	}
	if len(payload.Panels) == 0 {
		return nil, fmt.Errorf("%w: decomposition contains no panels", generation.ErrInvalidResponse)
	}

	specs := make([]domain.PanelSpec, 0, len(payload.Panels))
	for i, p := range payload.Panels {
		if p.SceneDescription == "" {
			return nil, fmt.Errorf("%w: panel %d has no scene description",
				generation.ErrInvalidResponse, i)
		}
		specs = append(specs, domain.PanelSpec{
			Index:            i,
			Title:            p.Title,
			SceneDescription: p.SceneDescription,
			Mood:             p.Mood,
			DialogueLines:    p.DialogueLines,
		})
	}

	g.logger.DebugContext(ctx, "story decomposed", "panel_count", len(specs))
	return specs, nil
}

// extractResponseText pulls the text of the first candidate, mapping safety
// blocks and empty responses onto the failure taxonomy.
func extractResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: response stopped by safety filters", generation.ErrContentBlocked)
	}
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	text := ""
	for _, part := range candidate.Content.Parts {
		text += part.Text
	}
	if text == "" {
		return "", fmt.Errorf("%w: response contains no text", generation.ErrInvalidResponse)
	}
	return text, nil
}

var _ generation.StoryGenerator = (*StoryGenerator)(nil)
