// Package upload fronts the external attachment transfer capability. The
// size ceiling is enforced here, before any bytes move, so an oversized
// file is rejected locally instead of failing mid-transfer.
package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	apperrors "converse/pkg/errors"
	"converse/pkg/logger"
	"converse/pkg/models"
)

// Uploader transfers one attachment and returns its opaque reference.
type Uploader interface {
	Upload(ctx context.Context, name, mimeType string, r io.Reader, size int64) (models.Attachment, error)
}

// Service wraps an Uploader with the configured ceiling.
type Service struct {
	uploader Uploader
	maxBytes int64
}

func NewService(u Uploader, maxBytes int64) *Service {
	return &Service{uploader: u, maxBytes: maxBytes}
}

// Upload validates the declared size against the ceiling and delegates.
func (s *Service) Upload(ctx context.Context, name, mimeType string, r io.Reader, size int64) (models.Attachment, error) {
	if size <= 0 {
		return models.Attachment{}, apperrors.Validation("attachment size must be positive")
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return models.Attachment{}, apperrors.Validation(
			fmt.Sprintf("attachment of %d bytes exceeds limit of %d bytes", size, s.maxBytes))
	}
	att, err := s.uploader.Upload(ctx, name, mimeType, r, size)
	if err != nil {
		logger.Warn("upload_failed", "name", name, "err", err)
		return models.Attachment{}, apperrors.TransientNetwork("attachment upload failed", err)
	}
	return att, nil
}

// DiskUploader stores attachments under a local directory and serves them
// by relative URL. It stands in for the remote blob store in single-node
// deployments and tests.
type DiskUploader struct {
	Dir     string
	BaseURL string
}

func (d *DiskUploader) Upload(ctx context.Context, name, mimeType string, r io.Reader, size int64) (models.Attachment, error) {
	if err := os.MkdirAll(d.Dir, 0o700); err != nil {
		return models.Attachment{}, err
	}
	id := uuid.NewString()
	path := filepath.Join(d.Dir, id+filepath.Ext(name))
	f, err := os.Create(path)
	if err != nil {
		return models.Attachment{}, err
	}
	// size is the declared length; refuse writers that lied past it
	n, err := io.Copy(f, io.LimitReader(r, size+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return models.Attachment{}, err
	}
	if n > size {
		os.Remove(path)
		return models.Attachment{}, fmt.Errorf("attachment larger than declared size %d", size)
	}
	return models.Attachment{
		URL:       d.BaseURL + "/" + filepath.Base(path),
		MimeType:  mimeType,
		SizeBytes: n,
	}, nil
}
