package generation

import (
	"context"

	"github.com/webtoonlab/panelgen/internal/domain"
)

// StoryGenerator defines the language-generation capability consumed by the
// pipeline. It serves as a boundary between the orchestration core and
// external AI/LLM services: implementations perform exactly one provider
// call per invocation and never retry internally.
type StoryGenerator interface {
	// DecomposeStory breaks a natural-language story prompt into an ordered
	// list of panel specifications. panelCountHint is advisory; the provider
	// may return fewer panels but implementations must preserve order and
	// assign contiguous indices starting at zero.
	//
	// Failed calls return errors classified against the taxonomy in
	// errors.go so the retry policy can tell transient from permanent.
	DecomposeStory(ctx context.Context, prompt string, panelCountHint int) ([]domain.PanelSpec, error)
}

// ImageGenerator defines the image-generation capability consumed by the
// pipeline. Same contract as StoryGenerator: one provider call per
// invocation, classified errors, no internal retries.
type ImageGenerator interface {
	// GeneratePanelImage synthesizes the image for a single panel and
	// returns an opaque reference to the stored artifact.
	GeneratePanelImage(ctx context.Context, spec domain.PanelSpec) (string, error)
}
