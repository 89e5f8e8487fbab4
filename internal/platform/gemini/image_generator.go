package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/webtoonlab/panelgen/internal/domain"
	"github.com/webtoonlab/panelgen/internal/generation"
)

// ImageStore persists generated image bytes and returns an opaque
// reference to the stored artifact.
type ImageStore interface {
	SaveImage(ctx context.Context, name, mimeType string, data []byte) (string, error)
}

// ImageGenerator implements generation.ImageGenerator using a Gemini image
// model. Generated bytes are handed to an ImageStore; the returned
// reference is what ends up on the task's panels.
type ImageGenerator struct {
	client *genai.Client
	model  string
	store  ImageStore
	logger *slog.Logger
}

// NewImageGenerator creates an ImageGenerator for the given model.
func NewImageGenerator(
	client *genai.Client,
	model string,
	store ImageStore,
	logger *slog.Logger,
) (*ImageGenerator, error) {
	if client == nil {
		return nil, fmt.Errorf("gemini client cannot be nil")
	}
	if model == "" {
		return nil, fmt.Errorf("image model name cannot be empty")
	}
	if store == nil {
		return nil, fmt.Errorf("image store cannot be nil")
	}

	return &ImageGenerator{
		client: client,
		model:  model,
		store:  store,
		logger: logger.With("component", "gemini_image_generator", "model", model),
	}, nil
}

// GeneratePanelImage performs a single image synthesis call for the panel.
func (g *ImageGenerator) GeneratePanelImage(ctx context.Context, spec domain.PanelSpec) (string, error) {
	if spec.SceneDescription == "" {
		return "", fmt.Errorf("%w: panel spec has no scene description", generation.ErrInvalidInput)
	}

	prompt := buildImagePrompt(spec)
	g.logger.DebugContext(ctx, "calling image model",
		"panel_index", spec.Index,
		"prompt_length", len(prompt))

	resp, err := g.client.Models.GenerateImages(ctx, g.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return "", classifyProviderError(err)
	}

	if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return "", fmt.Errorf("%w: provider returned no image", generation.ErrInvalidResponse)
	}

	image := resp.GeneratedImages[0].Image
	name := fmt.Sprintf("panel_%03d", spec.Index)
	ref, err := g.store.SaveImage(ctx, name, image.MIMEType, image.ImageBytes)
	if err != nil {
		return "", fmt.Errorf("%w: failed to store image: %v", generation.ErrTransientFailure, err)
	}

	g.logger.DebugContext(ctx, "panel image stored", "panel_index", spec.Index, "image_ref", ref)
	return ref, nil
}

// buildImagePrompt assembles the image prompt from the panel's art
// direction: scene first, then mood, style, and dialogue context.
func buildImagePrompt(spec domain.PanelSpec) string {
	var b strings.Builder
	b.WriteString(spec.SceneDescription)
	if spec.Mood != "" {
		b.WriteString(", mood: ")
		b.WriteString(spec.Mood)
	}
	if spec.ArtStyle != "" {
		b.WriteString(", art style: ")
		b.WriteString(spec.ArtStyle)
	}
	if len(spec.DialogueLines) > 0 {
		b.WriteString(". Characters are saying: ")
		b.WriteString(strings.Join(spec.DialogueLines, " / "))
	}
	return b.String()
}

var _ generation.ImageGenerator = (*ImageGenerator)(nil)
