// Package store keeps templates and generated artifacts in a document store.
//
// A store is scoped to one folder: every lookup and upload happens inside the
// folder it was created with. Three backends are available: a Google Drive
// folder, a Cloud Storage bucket prefix and a local directory.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStore marks every failure reported by a document store backend.
	ErrStore = errors.New("document store operation failed")

	// ErrNotFound is returned by Download when the id does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrExists is returned by Upload when the backend refuses to replace an existing object.
	ErrExists = errors.New("document already exists")
)

// Store is the narrow contract the pipeline needs from a document store.
type Store interface {
	// Find looks a document up by exact name inside the store folder.
	// found is false, with a nil error, when nothing matches.
	Find(ctx context.Context, name string) (id string, found bool, err error)

	// Download returns the content of the document with the given id.
	Download(ctx context.Context, id string) ([]byte, error)

	// Upload writes a new document into the store folder and returns its id.
	Upload(ctx context.Context, name string, data []byte, mimeType string) (string, error)
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
