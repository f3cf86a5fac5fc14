package models

import "time"

// User is an account that can authenticate and own documents.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// FileType enumerates the document kinds the API accepts.
type FileType string

const (
	FileTypeFolder FileType = "folder"
	FileTypeFile   FileType = "file"
	FileTypeImage  FileType = "image"
)

// Valid reports whether the type is one of the accepted document kinds.
func (t FileType) Valid() bool {
	switch t {
	case FileTypeFolder, FileTypeFile, FileTypeImage:
		return true
	}
	return false
}

// File is a document owned by a user. Folders carry no content; files and
// images reference decoded bytes in the content store through StorageKey.
// StorageKey is internal bookkeeping and must never leave the server.
type File struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	Type       FileType  `json:"type"`
	IsPublic   bool      `json:"isPublic"`
	ParentID   string    `json:"parentId"`
	StorageKey string    `json:"storageKey,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
