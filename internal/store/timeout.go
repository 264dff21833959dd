package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// timeoutStore bounds every call to the wrapped store with its own deadline.
type timeoutStore struct {
	store   Store
	timeout time.Duration
}

// WithCallTimeout wraps s so that each Find, Download and Upload call gets its
// own deadline of d. A call that runs out of time returns an error matching
// context.DeadlineExceeded. A non-positive d returns s unchanged.
func WithCallTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{store: s, timeout: d}
}

func (t *timeoutStore) Find(ctx context.Context, name string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	id, found, err := t.store.Find(ctx, name)
	return id, found, deadlineError(ctx, err)
}

func (t *timeoutStore) Download(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	data, err := t.store.Download(ctx, id)
	return data, deadlineError(ctx, err)
}

func (t *timeoutStore) Upload(ctx context.Context, name string, data []byte, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	id, err := t.store.Upload(ctx, name, data, mimeType)
	return id, deadlineError(ctx, err)
}

// deadlineError makes a failure caused by an expired call deadline match
// context.DeadlineExceeded, whatever the backend wrapped it in.
func deadlineError(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", err, context.DeadlineExceeded)
	}
	return err
}
