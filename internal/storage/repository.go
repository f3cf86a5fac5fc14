package storage

import (
	"context"
	"errors"

	"filevault/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrNotFound           = errors.New("record not found")
)

// CreateUserParams captures the attributes required to register a user.
type CreateUserParams struct {
	Email    string
	Password string
}

// CreateFileParams captures the attributes required to persist a document.
// StorageKey is empty for folders and references decoded content otherwise.
type CreateFileParams struct {
	UserID     string
	Name       string
	Type       models.FileType
	ParentID   string
	IsPublic   bool
	StorageKey string
}

// ListFilesParams filters and paginates a user's documents. A nil ParentID
// means no parent filter; a pointer to the empty string selects root
// documents only.
type ListFilesParams struct {
	UserID   string
	ParentID *string
	Page     int
	PerPage  int
}

// Counts summarises the datastore for the stats endpoint.
type Counts struct {
	Users int
	Files int
}

// Repository exposes the datastore operations required by the API handlers
// and the file service.
type Repository interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (Counts, error)

	CreateUser(params CreateUserParams) (models.User, error)
	GetUser(id string) (models.User, bool)
	FindUserByEmail(email string) (models.User, bool)
	AuthenticateUser(email, password string) (models.User, error)

	CreateFile(params CreateFileParams) (models.File, error)
	GetFile(id string) (models.File, bool)
	ListFiles(params ListFilesParams) []models.File
	SetFileVisibility(id string, public bool) (models.File, error)
}

var _ Repository = (*Storage)(nil)
