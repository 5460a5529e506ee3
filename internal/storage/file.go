package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// fileUploader writes objects below a base directory. An object becomes
// visible under its final name only once it is complete.
type fileUploader struct {
	basePath string
}

func newFileUploader(cfg FileConfig) (*fileUploader, error) {
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}
	return &fileUploader{basePath: cfg.BasePath}, nil
}

func (u *fileUploader) Upload(ctx context.Context, key string, body io.ReadSeeker, _ int64, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(u.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func (u *fileUploader) Backend() string { return "file" }

func (u *fileUploader) Close() error { return nil }
