// Package archive uploads analyzed images to a Google Drive folder.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const fallbackMime = "application/octet-stream"

// Uploader creates files in a fixed destination folder.
type Uploader struct {
	logger   *slog.Logger
	service  *drive.Service
	folderID string
}

// NewUploader builds a Drive client from the token source. Extra client
// options are appended, which lets tests point the service at a stub
// endpoint.
func NewUploader(ctx context.Context, log *slog.Logger, ts oauth2.TokenSource, folderID string, opts ...option.ClientOption) (*Uploader, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(folderID) == "" {
		return nil, fmt.Errorf("drive folder id is required")
	}

	clientOpts := make([]option.ClientOption, 0, len(opts)+1)
	if ts != nil {
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	}
	clientOpts = append(clientOpts, opts...)
	service, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Uploader{
		logger:   log.With(slog.String("component", "archive")),
		service:  service,
		folderID: folderID,
	}, nil
}

// Upload streams the local file into the folder under the given remote name
// and returns the created file's id. Large payloads go through the client's
// chunked resumable transfer.
func (u *Uploader) Upload(ctx context.Context, localPath, remoteName string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	meta := &drive.File{
		Name:    remoteName,
		Parents: []string{u.folderID},
	}

	created, err := u.service.Files.Create(meta).
		Media(f, googleapi.ContentType(guessMime(remoteName))).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("create drive file: %w", err)
	}

	u.logger.Info("image archived",
		slog.String("name", remoteName),
		slog.String("file_id", created.Id),
	)
	return created.Id, nil
}

func guessMime(name string) string {
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mimeType == "" {
		return fallbackMime
	}
	return mimeType
}
