// Package drive implements the object-storage gateway: uploading generated
// export files into a Google Drive folder via a service account.
package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrNoFolder is returned when no destination folder ID is configured.
var ErrNoFolder = errors.New("drive: folder identifier is required for uploads")

// FileInfo describes an uploaded object.
type FileInfo struct {
	ID   string
	Link string
}

// Uploader uploads local files into a fixed Drive folder. When an object
// with the same name already exists in the folder it is updated in place
// instead of duplicated.
type Uploader struct {
	service  *gdrive.Service
	folderID string
	log      *slog.Logger
}

// NewUploader creates an Uploader authenticated by the given service-account
// credentials file.
func NewUploader(ctx context.Context, serviceAccountFile, folderID string) (*Uploader, error) {
	if serviceAccountFile == "" {
		return nil, errors.New("drive: service account file is required")
	}
	service, err := gdrive.NewService(ctx,
		option.WithCredentialsFile(serviceAccountFile),
		option.WithScopes(gdrive.DriveFileScope),
	)
	if err != nil {
		return nil, fmt.Errorf("drive: creating service: %w", err)
	}
	return NewUploaderWithService(service, folderID), nil
}

// NewUploaderWithService wraps an already-constructed Drive service. Used by
// tests and callers with custom client options.
func NewUploaderWithService(service *gdrive.Service, folderID string) *Uploader {
	return &Uploader{
		service:  service,
		folderID: folderID,
		log:      slog.Default().With("storage", "drive"),
	}
}

// Upload sends the file at path to the configured folder, returning the
// object's ID and web link. The folder and local file are validated before
// any network I/O.
func (u *Uploader) Upload(ctx context.Context, path string) (FileInfo, error) {
	if u.folderID == "" {
		return FileInfo{}, ErrNoFolder
	}
	f, err := os.Open(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("drive: cannot upload %s: %w", path, err)
	}
	defer f.Close()

	name := filepath.Base(path)
	existingID, err := u.findExisting(ctx, name)
	if err != nil {
		return FileInfo{}, err
	}

	var res *gdrive.File
	if existingID != "" {
		res, err = u.service.Files.Update(existingID, &gdrive.File{}).
			Media(f, googleapi.ContentType("application/json")).
			Fields("id, webViewLink").
			Context(ctx).
			Do()
	} else {
		meta := &gdrive.File{Name: name, Parents: []string{u.folderID}}
		res, err = u.service.Files.Create(meta).
			Media(f, googleapi.ContentType("application/json")).
			Fields("id, webViewLink").
			Context(ctx).
			Do()
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("drive: uploading %s: %w", name, err)
	}

	u.log.Info("uploaded export", "name", name, "id", res.Id, "updated", existingID != "")
	return FileInfo{ID: res.Id, Link: res.WebViewLink}, nil
}

// findExisting returns the ID of an object with the given name in the
// destination folder, or "" when none exists.
func (u *Uploader) findExisting(ctx context.Context, name string) (string, error) {
	query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escapeQuery(name), escapeQuery(u.folderID))
	list, err := u.service.Files.List().
		Q(query).
		Fields("files(id)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive: searching for %s: %w", name, err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

// escapeQuery escapes single quotes and backslashes for the Drive query
// grammar.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
