package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"examflow/internal/logger"
)

// LocalStore keeps documents as files in a directory. File names double as ids.
type LocalStore struct {
	dir string
	log zerolog.Logger
}

// NewLocalStore creates the directory if needed and returns a store rooted at it.
func NewLocalStore(dir string) (*LocalStore, error) {
	const op = "NewLocalStore"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%s: failed to create directory %s: %w", op, dir, err)
	}
	return &LocalStore{
		dir: dir,
		log: logger.WithComponent("store").With().Str("backend", "local").Str("dir", dir).Logger(),
	}, nil
}

// Find implements Store.
func (l *LocalStore) Find(ctx context.Context, name string) (string, bool, error) {
	const op = "Find"

	if err := ctx.Err(); err != nil {
		return "", false, storeError(op, err)
	}
	path, err := l.path(name)
	if err != nil {
		return "", false, storeError(op, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, storeError(op, err)
	}
	if info.IsDir() {
		return "", false, nil
	}
	return name, true, nil
}

// Download implements Store.
func (l *LocalStore) Download(ctx context.Context, id string) ([]byte, error) {
	const op = "Download"

	if err := ctx.Err(); err != nil {
		return nil, storeError(op, err)
	}
	path, err := l.path(id)
	if err != nil {
		return nil, storeError(op, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storeError(op, fmt.Errorf("%w: %s", ErrNotFound, id))
		}
		return nil, storeError(op, err)
	}
	return data, nil
}

// Upload implements Store. Existing files are never replaced.
func (l *LocalStore) Upload(ctx context.Context, name string, data []byte, _ string) (string, error) {
	const op = "Upload"

	if err := ctx.Err(); err != nil {
		return "", storeError(op, err)
	}
	path, err := l.path(name)
	if err != nil {
		return "", storeError(op, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", storeError(op, fmt.Errorf("%w: %s", ErrExists, name))
		}
		return "", storeError(op, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", storeError(op, err)
	}
	if err := f.Close(); err != nil {
		return "", storeError(op, err)
	}

	l.log.Info().Str("name", name).Int("bytes", len(data)).Msg("Stored file")
	return name, nil
}

// path resolves a document name inside the store directory, rejecting anything that would escape it.
func (l *LocalStore) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid document name %q", name)
	}
	return filepath.Join(l.dir, name), nil
}
