package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"filevault/internal/models"
)

// DefaultFilesPerPage bounds listing results when the caller does not set a
// page size.
const DefaultFilesPerPage = 20

// CreateFile persists a document record. Validation of name, type, and parent
// linkage happens in the file service; the storage layer only enforces that
// the owning user exists.
func (s *Storage) CreateFile(params CreateFileParams) (models.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[params.UserID]; !ok {
		return models.File{}, fmt.Errorf("user %s: %w", params.UserID, ErrNotFound)
	}

	id, err := generateID()
	if err != nil {
		return models.File{}, err
	}

	file := models.File{
		ID:         id,
		UserID:     params.UserID,
		Name:       strings.TrimSpace(params.Name),
		Type:       params.Type,
		IsPublic:   params.IsPublic,
		ParentID:   params.ParentID,
		StorageKey: params.StorageKey,
		CreatedAt:  time.Now().UTC(),
	}

	s.data.Files[id] = file
	if err := s.persist(); err != nil {
		delete(s.data.Files, id)
		return models.File{}, err
	}

	return file, nil
}

func (s *Storage) GetFile(id string) (models.File, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	file, ok := s.data.Files[id]
	return file, ok
}

// ListFiles returns the documents owned by a user ordered by creation time,
// optionally restricted to one parent folder, paginated.
func (s *Storage) ListFiles(params ListFilesParams) []models.File {
	s.mu.RLock()
	files := make([]models.File, 0, len(s.data.Files))
	for _, file := range s.data.Files {
		if file.UserID != params.UserID {
			continue
		}
		if params.ParentID != nil && file.ParentID != *params.ParentID {
			continue
		}
		files = append(files, file)
	}
	s.mu.RUnlock()

	sort.Slice(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].ID < files[j].ID
		}
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})

	return paginateFiles(files, params.Page, params.PerPage)
}

func paginateFiles(files []models.File, page, perPage int) []models.File {
	if perPage <= 0 {
		perPage = DefaultFilesPerPage
	}
	if page < 0 {
		page = 0
	}
	start := page * perPage
	if start >= len(files) {
		return []models.File{}
	}
	end := start + perPage
	if end > len(files) {
		end = len(files)
	}
	return files[start:end]
}

// SetFileVisibility flips the public flag on a document. Concurrent flips are
// last-write-wins; the call never fails on a visibility conflict.
func (s *Storage) SetFileVisibility(id string, public bool) (models.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.data.Files[id]
	if !ok {
		return models.File{}, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}

	previous := file.IsPublic
	file.IsPublic = public
	s.data.Files[id] = file
	if err := s.persist(); err != nil {
		file.IsPublic = previous
		s.data.Files[id] = file
		return models.File{}, err
	}

	return file, nil
}

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
