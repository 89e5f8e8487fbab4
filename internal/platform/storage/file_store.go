// Package storage provides artifact persistence for generated panel
// images. The file store is the local implementation; object storage
// belongs to the surrounding deployment, not this core.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// mimeExtensions maps the image MIME types the providers emit to file
// extensions. Unknown types fall back to .bin rather than failing the
// panel.
var mimeExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// FileStore writes images under a base directory and returns their paths
// as references.
type FileStore struct {
	baseDir string
	logger  *slog.Logger
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string, logger *slog.Logger) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("image base directory cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory %s: %w", baseDir, err)
	}

	return &FileStore{
		baseDir: baseDir,
		logger:  logger.With("component", "file_store"),
	}, nil
}

// SaveImage writes the image bytes to a uniquely named file and returns
// its path. The random suffix keeps retried attempts from overwriting an
// earlier attempt's artifact.
func (s *FileStore) SaveImage(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("image data cannot be empty")
	}

	ext, ok := mimeExtensions[mimeType]
	if !ok {
		ext = ".bin"
	}

	filename := fmt.Sprintf("%s_%s%s", name, uuid.NewString()[:8], ext)
	path := filepath.Join(s.baseDir, filename)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write image %s: %w", path, err)
	}

	s.logger.DebugContext(ctx, "image saved", "path", path, "bytes", len(data))
	return path, nil
}
