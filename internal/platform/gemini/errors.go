package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/webtoonlab/panelgen/internal/generation"
)

// classifyProviderError maps an error from the Gemini SDK onto the
// pipeline's failure taxonomy. Rate limits, server-side errors, and
// network-level failures are transient; request and credential problems
// are not. Unrecognized errors default to transient, matching how the
// surrounding retry policy treats unknown provider behavior.
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
		case apiErr.Code == http.StatusBadRequest:
			return fmt.Errorf("%w: %v", generation.ErrInvalidInput, err)
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %v", generation.ErrUnauthorized, err)
		}
	}

	return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
}
