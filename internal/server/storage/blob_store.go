// Package storage provides local filesystem storage for receipt evidence blobs.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = errors.New("blob not found")

// BlobStore defines the interface for blob storage operations.
type BlobStore interface {
	// Save writes blob content under the given key, recording its content type.
	Save(key string, content []byte, contentType string) error

	// Read returns the blob content and its content type.
	Read(key string) ([]byte, string, error)

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(key string) error
}

// LocalBlobStore implements BlobStore on the local filesystem. Each blob is
// stored as <baseDir>/<key>.bin with its content type in <baseDir>/<key>.type.
type LocalBlobStore struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocalBlobStore creates a new LocalBlobStore rooted at baseDir.
func NewLocalBlobStore(baseDir string, logger *zap.Logger) (*LocalBlobStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &LocalBlobStore{
		baseDir: baseDir,
		logger:  logger,
	}, nil
}

// Save writes blob content under the given key.
func (s *LocalBlobStore) Save(key string, content []byte, contentType string) error {
	dataPath, typePath, err := s.paths(key)
	if err != nil {
		return err
	}

	if err := os.WriteFile(dataPath, content, 0o644); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if err := os.WriteFile(typePath, []byte(contentType), 0o644); err != nil {
		return fmt.Errorf("failed to write blob type %s: %w", key, err)
	}

	s.logger.Debug("Blob saved",
		zap.String("key", key),
		zap.Int("size", len(content)),
		zap.String("content_type", contentType))
	return nil
}

// Read returns the blob content and its content type.
func (s *LocalBlobStore) Read(key string) ([]byte, string, error) {
	dataPath, typePath, err := s.paths(key)
	if err != nil {
		return nil, "", err
	}

	content, err := os.ReadFile(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to read blob %s: %w", key, err)
	}

	contentType := "application/octet-stream"
	if raw, err := os.ReadFile(typePath); err == nil && len(raw) > 0 {
		contentType = string(raw)
	}
	return content, contentType, nil
}

// Delete removes the blob and its content-type record.
func (s *LocalBlobStore) Delete(key string) error {
	dataPath, typePath, err := s.paths(key)
	if err != nil {
		return err
	}

	if err := os.Remove(dataPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	if err := os.Remove(typePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob type %s: %w", key, err)
	}
	return nil
}

// paths resolves and validates the data and content-type file paths for a key.
func (s *LocalBlobStore) paths(key string) (string, string, error) {
	if key == "" {
		return "", "", fmt.Errorf("blob key is empty")
	}
	if strings.Contains(key, "/") || strings.Contains(key, "\\") || strings.Contains(key, "..") {
		return "", "", fmt.Errorf("invalid blob key: %s", key)
	}

	dataPath := filepath.Join(s.baseDir, key+".bin")
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	absData, err := filepath.Abs(dataPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve blob path: %w", err)
	}
	if !strings.HasPrefix(absData, absBase+string(filepath.Separator)) {
		return "", "", fmt.Errorf("blob path escapes base directory: %s", key)
	}

	return dataPath, filepath.Join(s.baseDir, key+".type"), nil
}
