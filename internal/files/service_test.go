package files

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"filevault/internal/blob"
	"filevault/internal/models"
	"filevault/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.Storage, string) {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "filevault.json"))
	if err != nil {
		t.Fatalf("NewStorage returned error: %v", err)
	}
	blobs, err := blob.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore returned error: %v", err)
	}
	user, err := store.CreateUser(storage.CreateUserParams{Email: "bob@example.com", Password: "hunter2"})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	return NewService(store, blobs), store, user.ID
}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestCreateValidation(t *testing.T) {
	service, _, userID := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params CreateParams
		want   *ValidationError
	}{
		{"missing name", CreateParams{UserID: userID, Type: "file", Data: encode("x")}, ErrMissingName},
		{"blank name", CreateParams{UserID: userID, Name: "   ", Type: "file", Data: encode("x")}, ErrMissingName},
		{"missing type", CreateParams{UserID: userID, Name: "a.txt", Data: encode("x")}, ErrMissingType},
		{"bogus type", CreateParams{UserID: userID, Name: "a.txt", Type: "archive", Data: encode("x")}, ErrMissingType},
		{"missing data", CreateParams{UserID: userID, Name: "a.txt", Type: "file"}, ErrMissingData},
		{"undecodable data", CreateParams{UserID: userID, Name: "a.txt", Type: "file", Data: "not base64!"}, ErrMissingData},
		{"missing parent", CreateParams{UserID: userID, Name: "a.txt", Type: "file", Data: encode("x"), ParentID: "ghost"}, ErrParentNotFound},
	}
	for _, tc := range cases {
		_, err := service.Create(ctx, tc.params)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %q, got %v", tc.name, tc.want.Reason, err)
		}
	}
}

func TestCreateParentMustBeFolder(t *testing.T) {
	service, _, userID := newTestService(t)
	ctx := context.Background()

	plain, err := service.Create(ctx, CreateParams{UserID: userID, Name: "a.txt", Type: "file", Data: encode("x")})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	_, err = service.Create(ctx, CreateParams{UserID: userID, Name: "b.txt", Type: "file", Data: encode("x"), ParentID: plain.ID})
	if !errors.Is(err, ErrParentNotFolder) {
		t.Fatalf("expected ErrParentNotFolder, got %v", err)
	}
}

func TestCreateHidesPrivateParentsOfOthers(t *testing.T) {
	service, store, userID := newTestService(t)
	ctx := context.Background()

	other, err := store.CreateUser(storage.CreateUserParams{Email: "alice@example.com", Password: "hunter2"})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	privateFolder, err := service.Create(ctx, CreateParams{UserID: other.ID, Name: "vault", Type: "folder"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	_, err = service.Create(ctx, CreateParams{UserID: userID, Name: "a.txt", Type: "file", Data: encode("x"), ParentID: privateFolder.ID})
	if !errors.Is(err, ErrParentNotFound) {
		t.Fatalf("expected ErrParentNotFound for another user's private folder, got %v", err)
	}

	if _, err := service.SetVisibility(other.ID, privateFolder.ID, true); err != nil {
		t.Fatalf("SetVisibility returned error: %v", err)
	}
	if _, err := service.Create(ctx, CreateParams{UserID: userID, Name: "a.txt", Type: "file", Data: encode("x"), ParentID: privateFolder.ID}); err != nil {
		t.Fatalf("expected upload into a public folder to succeed, got %v", err)
	}
}

func TestCreateFolderNeedsNoData(t *testing.T) {
	service, _, userID := newTestService(t)

	folder, err := service.Create(context.Background(), CreateParams{UserID: userID, Name: "docs", Type: "folder"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if folder.Type != models.FileTypeFolder {
		t.Fatalf("expected folder type, got %s", folder.Type)
	}
	if folder.StorageKey != "" {
		t.Fatal("folders must not get a storage key")
	}
}

func TestCreateStoresDecodedContent(t *testing.T) {
	service, _, userID := newTestService(t)
	ctx := context.Background()

	file, err := service.Create(ctx, CreateParams{UserID: userID, Name: "hello.txt", Type: "file", Data: encode("Hello Webstack!")})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if file.StorageKey == "" {
		t.Fatal("expected a storage key")
	}

	content, err := service.Data(ctx, userID, file.ID)
	if err != nil {
		t.Fatalf("Data returned error: %v", err)
	}
	defer content.Reader.Close()
	data, err := io.ReadAll(content.Reader)
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	if string(data) != "Hello Webstack!" {
		t.Fatalf("unexpected content %q", data)
	}
	if content.ContentType != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected content type %q", content.ContentType)
	}
}

func TestDataContentTypeFallback(t *testing.T) {
	service, _, userID := newTestService(t)
	ctx := context.Background()

	file, err := service.Create(ctx, CreateParams{UserID: userID, Name: "blob", Type: "file", Data: encode("x")})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	content, err := service.Data(ctx, userID, file.ID)
	if err != nil {
		t.Fatalf("Data returned error: %v", err)
	}
	content.Reader.Close()
	if content.ContentType != "application/octet-stream" {
		t.Fatalf("expected octet-stream fallback, got %q", content.ContentType)
	}
}

func TestDataRejectsFolders(t *testing.T) {
	service, _, userID := newTestService(t)
	ctx := context.Background()

	folder, err := service.Create(ctx, CreateParams{UserID: userID, Name: "docs", Type: "folder"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := service.Data(ctx, userID, folder.ID); !errors.Is(err, ErrFolderHasNoData) {
		t.Fatalf("expected ErrFolderHasNoData, got %v", err)
	}
}

func TestGetHidesPrivateFilesOfOthers(t *testing.T) {
	service, store, userID := newTestService(t)
	ctx := context.Background()

	other, err := store.CreateUser(storage.CreateUserParams{Email: "alice@example.com", Password: "hunter2"})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	private, err := service.Create(ctx, CreateParams{UserID: userID, Name: "secret.txt", Type: "file", Data: encode("x")})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, err := service.Get(other.ID, private.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected storage.ErrNotFound, got %v", err)
	}
	if _, err := service.Get("", private.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected storage.ErrNotFound for anonymous access, got %v", err)
	}

	if _, err := service.SetVisibility(userID, private.ID, true); err != nil {
		t.Fatalf("SetVisibility returned error: %v", err)
	}
	if _, err := service.Get(other.ID, private.ID); err != nil {
		t.Fatalf("expected public file to be visible, got %v", err)
	}
	if _, err := service.Get("", private.ID); err != nil {
		t.Fatalf("expected public file to be visible anonymously, got %v", err)
	}
}

func TestSetVisibilityOwnerOnly(t *testing.T) {
	service, store, userID := newTestService(t)
	ctx := context.Background()

	other, err := store.CreateUser(storage.CreateUserParams{Email: "alice@example.com", Password: "hunter2"})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	file, err := service.Create(ctx, CreateParams{UserID: userID, Name: "a.txt", Type: "file", Data: encode("x")})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, err := service.SetVisibility(other.ID, file.ID, true); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected storage.ErrNotFound for non-owner, got %v", err)
	}
	if _, err := service.SetVisibility(userID, "ghost", true); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected storage.ErrNotFound for unknown file, got %v", err)
	}

	updated, err := service.SetVisibility(userID, file.ID, true)
	if err != nil {
		t.Fatalf("SetVisibility returned error: %v", err)
	}
	if !updated.IsPublic {
		t.Fatal("expected file to be public")
	}
}

func TestListPagesByParent(t *testing.T) {
	service, _, userID := newTestService(t)
	ctx := context.Background()

	folder, err := service.Create(ctx, CreateParams{UserID: userID, Name: "docs", Type: "folder"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := service.Create(ctx, CreateParams{UserID: userID, Name: "a.txt", Type: "file", Data: encode("x"), ParentID: folder.ID}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	parent := folder.ID
	inFolder := service.List(ListParams{UserID: userID, ParentID: &parent})
	if len(inFolder) != 3 {
		t.Fatalf("expected 3 files in the folder, got %d", len(inFolder))
	}

	root := ""
	atRoot := service.List(ListParams{UserID: userID, ParentID: &root})
	if len(atRoot) != 1 {
		t.Fatalf("expected 1 entry at the root, got %d", len(atRoot))
	}

	everything := service.List(ListParams{UserID: userID})
	if len(everything) != 4 {
		t.Fatalf("expected 4 entries without a filter, got %d", len(everything))
	}
}
