package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"examflow/internal/googleauth"
	"examflow/internal/logger"
)

// DriveStore keeps documents in a single Google Drive folder.
type DriveStore struct {
	files    *drive.FilesService
	folderID string
	log      zerolog.Logger
}

// NewDriveStore creates a Drive client with credentials from environment.
func NewDriveStore(ctx context.Context, folderID string) (*DriveStore, error) {
	const op = "NewDriveStore"

	client, err := googleauth.HTTPClient(ctx, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create drive service: %w", op, err)
	}

	return NewDriveStoreWithService(srv, folderID), nil
}

// NewDriveStoreWithService creates a store with an explicit Drive service.
func NewDriveStoreWithService(srv *drive.Service, folderID string) *DriveStore {
	return &DriveStore{
		files:    srv.Files,
		folderID: folderID,
		log:      logger.WithComponent("store").With().Str("backend", "drive").Logger(),
	}
}

// Find implements Store.
func (d *DriveStore) Find(ctx context.Context, name string) (string, bool, error) {
	const op = "Find"

	resp, err := d.files.List().
		Q(driveQuery(d.folderID, name)).
		Fields("files(id, name)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", false, storeError(op, err)
	}

	if len(resp.Files) == 0 {
		return "", false, nil
	}
	if len(resp.Files) > 1 {
		d.log.Warn().Str("name", name).Int("matches", len(resp.Files)).Msg("Several files share the name, using the first")
	}
	return resp.Files[0].Id, true, nil
}

// Download implements Store.
func (d *DriveStore) Download(ctx context.Context, id string) ([]byte, error) {
	const op = "Download"

	resp, err := d.files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, storeError(op, fmt.Errorf("%w: %s", ErrNotFound, id))
		}
		return nil, storeError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, storeError(op, err)
	}
	return data, nil
}

// Upload implements Store.
func (d *DriveStore) Upload(ctx context.Context, name string, data []byte, mimeType string) (string, error) {
	const op = "Upload"

	file := &drive.File{
		Name:     name,
		Parents:  []string{d.folderID},
		MimeType: mimeType,
	}

	created, err := d.files.Create(file).
		Media(bytes.NewReader(data), googleapi.ContentType(mimeType)).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", storeError(op, err)
	}

	d.log.Info().Str("name", name).Str("id", created.Id).Int("bytes", len(data)).Msg("Uploaded file")
	return created.Id, nil
}

// driveQuery builds the files.list query for an exact name match inside a folder.
func driveQuery(folderID, name string) string {
	return fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false",
		escapeQueryValue(folderID), escapeQueryValue(name))
}

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func escapeQueryValue(s string) string {
	return queryEscaper.Replace(s)
}
