package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"

	"examflow/internal/googleauth"
	"examflow/internal/logger"
)

// GCSStore keeps documents under a folder prefix of a Cloud Storage bucket.
// Object names double as document ids.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	folder string
	log    zerolog.Logger
}

// NewGCSStore creates a Cloud Storage client with credentials from environment.
func NewGCSStore(ctx context.Context, bucket, folder string) (*GCSStore, error) {
	const op = "NewGCSStore"

	client, err := storage.NewClient(ctx, googleauth.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create storage client: %w", op, err)
	}

	return NewGCSStoreWithClient(client, bucket, folder), nil
}

// NewGCSStoreWithClient creates a store with an explicit client.
func NewGCSStoreWithClient(client *storage.Client, bucket, folder string) *GCSStore {
	return &GCSStore{
		client: client,
		bucket: client.Bucket(bucket),
		folder: strings.Trim(folder, "/"),
		log:    logger.WithComponent("store").With().Str("backend", "gcs").Str("bucket", bucket).Logger(),
	}
}

// Find implements Store.
func (g *GCSStore) Find(ctx context.Context, name string) (string, bool, error) {
	const op = "Find"

	object := g.objectName(name)
	if _, err := g.bucket.Object(object).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", false, nil
		}
		return "", false, storeError(op, err)
	}
	return object, true, nil
}

// Download implements Store.
func (g *GCSStore) Download(ctx context.Context, id string) ([]byte, error) {
	const op = "Download"

	reader, err := g.bucket.Object(id).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, storeError(op, fmt.Errorf("%w: %s", ErrNotFound, id))
		}
		return nil, storeError(op, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, storeError(op, err)
	}
	return data, nil
}

// Upload implements Store. The write only succeeds if the object does not exist yet.
func (g *GCSStore) Upload(ctx context.Context, name string, data []byte, mimeType string) (string, error) {
	const op = "Upload"

	object := g.objectName(name)
	writer := g.bucket.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = mimeType

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return "", storeError(op, classifyWriteError(object, err))
	}
	if err := writer.Close(); err != nil {
		return "", storeError(op, classifyWriteError(object, err))
	}

	g.log.Info().Str("object", object).Int("bytes", len(data)).Msg("Uploaded object")
	return object, nil
}

// Close closes the underlying storage client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

func (g *GCSStore) objectName(name string) string {
	if g.folder == "" {
		return name
	}
	return path.Join(g.folder, name)
}

func classifyWriteError(object string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("%w: %s", ErrExists, object)
	}
	return err
}
