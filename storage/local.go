package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
)

// LocalStore keeps artifacts on the local filesystem
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperr.IO(err, "failed to create artifact root %s", root)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) resolve(p string) (string, string, error) {
	cleaned, err := CleanPath(p)
	if err != nil {
		return "", "", err
	}
	return cleaned, filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Put writes the content at path
func (s *LocalStore) Put(ctx context.Context, p string, r io.Reader, size int64) error {
	cleaned, full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if cleaned == "" {
		return apperr.Invalid("artifact path must not be empty")
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return apperr.IO(err, "failed to create artifact directory for %s", cleaned)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return apperr.IO(err, "failed to create artifact %s", cleaned)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return apperr.IO(err, "failed to write artifact %s", cleaned)
	}
	if err := tmp.Close(); err != nil {
		return apperr.IO(err, "failed to write artifact %s", cleaned)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return apperr.IO(err, "failed to store artifact %s", cleaned)
	}
	return nil
}

// Get opens the content at path
func (s *LocalStore) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	cleaned, full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound("artifact", cleaned)
		}
		return nil, apperr.IO(err, "failed to stat artifact %s", cleaned)
	}
	if info.IsDir() {
		return nil, apperr.NotFound("artifact", cleaned)
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, apperr.IO(err, "failed to open artifact %s", cleaned)
	}
	return f, nil
}

// List returns the direct children of dir sorted by path; a missing dir is empty
func (s *LocalStore) List(ctx context.Context, dir string) ([]models.ArtifactInfo, error) {
	cleaned, full, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, apperr.IO(err, "failed to list artifacts in %s", cleaned)
	}

	var out []models.ArtifactInfo
	for _, e := range entries {
		if len(e.Name()) > 0 && e.Name()[0] == '.' {
			continue
		}
		item := models.ArtifactInfo{Path: objectKey(cleaned, e.Name()), IsDir: e.IsDir()}
		if !e.IsDir() {
			if info, err := e.Info(); err == nil {
				item.FileSize = info.Size()
			}
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
