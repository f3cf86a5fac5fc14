// Package files implements the upload, lookup, listing, and visibility
// rules for stored documents.
package files

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"filevault/internal/blob"
	"filevault/internal/models"
	"filevault/internal/observability/metrics"
	"filevault/internal/storage"
)

// ValidationError describes a rejected request. The reason is written
// verbatim into the error payload returned to the client.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

var (
	ErrMissingName     = &ValidationError{Reason: "Missing name"}
	ErrMissingType     = &ValidationError{Reason: "Missing type"}
	ErrMissingData     = &ValidationError{Reason: "Missing data"}
	ErrParentNotFound  = &ValidationError{Reason: "Parent not found"}
	ErrParentNotFolder = &ValidationError{Reason: "Parent is not a folder"}
	ErrFolderHasNoData = &ValidationError{Reason: "A folder doesn't have content"}
)

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

const defaultContentType = "application/octet-stream"

// Service coordinates the document repository and the blob store.
type Service struct {
	store   storage.Repository
	blobs   blob.Store
	metrics *metrics.Recorder
}

// NewService wires a Service to its repository and content store.
func NewService(store storage.Repository, blobs blob.Store) *Service {
	return &Service{store: store, blobs: blobs, metrics: metrics.Default()}
}

// CreateParams carries one upload request.
type CreateParams struct {
	UserID   string
	Name     string
	Type     string
	ParentID string
	IsPublic bool
	// Data holds the base64-encoded content for file and image uploads.
	Data string
}

// Create validates an upload, stores its decoded content, and records the
// document. Folders carry no content.
func (s *Service) Create(ctx context.Context, params CreateParams) (models.File, error) {
	if strings.TrimSpace(params.Name) == "" {
		return models.File{}, ErrMissingName
	}
	fileType := models.FileType(params.Type)
	if !fileType.Valid() {
		return models.File{}, ErrMissingType
	}
	if fileType != models.FileTypeFolder && params.Data == "" {
		return models.File{}, ErrMissingData
	}
	if params.ParentID != "" {
		parent, ok := s.store.GetFile(params.ParentID)
		if !ok || (parent.UserID != params.UserID && !parent.IsPublic) {
			// Other users' private folders look absent.
			return models.File{}, ErrParentNotFound
		}
		if parent.Type != models.FileTypeFolder {
			return models.File{}, ErrParentNotFolder
		}
	}

	var (
		storageKey string
		content    []byte
	)
	if fileType != models.FileTypeFolder {
		decoded, err := base64.StdEncoding.DecodeString(params.Data)
		if err != nil {
			return models.File{}, ErrMissingData
		}
		content = decoded
		storageKey = uuid.NewString()
		if err := s.blobs.Save(ctx, storageKey, content); err != nil {
			return models.File{}, fmt.Errorf("store content: %w", err)
		}
	}

	file, err := s.store.CreateFile(storage.CreateFileParams{
		UserID:     params.UserID,
		Name:       params.Name,
		Type:       fileType,
		ParentID:   params.ParentID,
		IsPublic:   params.IsPublic,
		StorageKey: storageKey,
	})
	if err != nil {
		if storageKey != "" {
			_ = s.blobs.Remove(ctx, storageKey)
		}
		return models.File{}, err
	}

	s.metrics.ObserveUpload(string(fileType), len(content))
	return file, nil
}

// Get returns a document visible to userID. Private documents of other
// users are indistinguishable from missing ones.
func (s *Service) Get(userID, fileID string) (models.File, error) {
	file, ok := s.store.GetFile(fileID)
	if !ok {
		return models.File{}, storage.ErrNotFound
	}
	if file.UserID != userID && !file.IsPublic {
		return models.File{}, storage.ErrNotFound
	}
	return file, nil
}

// ListParams selects a page of a user's documents.
type ListParams struct {
	UserID string
	// ParentID filters by parent when set. The empty string selects
	// top-level documents.
	ParentID *string
	Page     int
}

// List returns one page of the user's documents.
func (s *Service) List(params ListParams) []models.File {
	return s.store.ListFiles(storage.ListFilesParams{
		UserID:   params.UserID,
		ParentID: params.ParentID,
		Page:     params.Page,
	})
}

// SetVisibility flips a document's public flag. Only the owner may change
// it; anyone else sees the document as missing.
func (s *Service) SetVisibility(userID, fileID string, public bool) (models.File, error) {
	file, ok := s.store.GetFile(fileID)
	if !ok || file.UserID != userID {
		return models.File{}, storage.ErrNotFound
	}
	return s.store.SetFileVisibility(fileID, public)
}

// Content is an open blob together with the media type to serve it under.
type Content struct {
	Reader      io.ReadCloser
	ContentType string
}

// Data opens the content of a document visible to userID. The media type
// is guessed from the document name.
func (s *Service) Data(ctx context.Context, userID, fileID string) (Content, error) {
	file, err := s.Get(userID, fileID)
	if err != nil {
		return Content{}, err
	}
	if file.Type == models.FileTypeFolder {
		return Content{}, ErrFolderHasNoData
	}
	if file.StorageKey == "" {
		return Content{}, storage.ErrNotFound
	}
	reader, err := s.blobs.Open(ctx, file.StorageKey)
	if errors.Is(err, blob.ErrNotFound) {
		return Content{}, storage.ErrNotFound
	}
	if err != nil {
		return Content{}, fmt.Errorf("open content: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(file.Name))
	if contentType == "" {
		contentType = defaultContentType
	}
	return Content{Reader: reader, ContentType: contentType}, nil
}
