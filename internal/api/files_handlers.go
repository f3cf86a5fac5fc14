package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"filevault/internal/files"
	"filevault/internal/models"
	"filevault/internal/observability/logging"
	"filevault/internal/storage"
)

var errMethodNotAllowed = errors.New("method not allowed")

type fileResponse struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	IsPublic bool   `json:"isPublic"`
	ParentID string `json:"parentId"`
}

func newFileResponse(file models.File) fileResponse {
	return fileResponse{
		ID:       file.ID,
		UserID:   file.UserID,
		Name:     file.Name,
		Type:     string(file.Type),
		IsPublic: file.IsPublic,
		ParentID: file.ParentID,
	}
}

// FilesCollection serves uploads and listings at the collection path.
func (h *Handler) FilesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createFile(w, r)
	case http.MethodGet:
		h.listFiles(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
	}
}

func (h *Handler) createFile(w http.ResponseWriter, r *http.Request) {
	user, ok := requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	var payload struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		ParentID string `json:"parentId"`
		IsPublic bool   `json:"isPublic"`
		Data     string `json:"data"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("Missing name"))
		return
	}

	file, err := h.Files.Create(r.Context(), files.CreateParams{
		UserID:   user.ID,
		Name:     payload.Name,
		Type:     payload.Type,
		ParentID: payload.ParentID,
		IsPublic: payload.IsPublic,
		Data:     payload.Data,
	})
	if err != nil {
		if files.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		logging.WithContext(r.Context(), h.Logger).Error("create file failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}

	logging.WithContext(r.Context(), h.Logger).Info("file created",
		slog.String("file_id", file.ID),
		slog.String("type", string(file.Type)))
	writeJSON(w, http.StatusCreated, newFileResponse(file))
}

func (h *Handler) listFiles(w http.ResponseWriter, r *http.Request) {
	user, ok := requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	page := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			page = parsed
		}
	}

	params := files.ListParams{UserID: user.ID, Page: page}
	if r.URL.Query().Has("parentId") {
		parentID := r.URL.Query().Get("parentId")
		params.ParentID = &parentID
	}

	listed := h.Files.List(params)
	responses := make([]fileResponse, 0, len(listed))
	for _, file := range listed {
		responses = append(responses, newFileResponse(file))
	}
	writeJSON(w, http.StatusOK, responses)
}

// FileByID routes requests addressed to a single document: show, publish,
// unpublish, and raw content.
func (h *Handler) FileByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/files/"), "/")
	segments := strings.Split(rest, "/")
	if rest == "" || len(segments) > 2 {
		writeError(w, http.StatusNotFound, ErrNotFound)
		return
	}
	fileID := segments[0]

	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
			return
		}
		h.showFile(w, r, fileID)
		return
	}

	switch segments[1] {
	case "publish", "unpublish":
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
			return
		}
		h.setFileVisibility(w, r, fileID, segments[1] == "publish")
	case "data":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
			return
		}
		h.fileData(w, r, fileID)
	default:
		writeError(w, http.StatusNotFound, ErrNotFound)
	}
}

func (h *Handler) showFile(w http.ResponseWriter, r *http.Request, fileID string) {
	user, ok := requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	file, err := h.Files.Get(user.ID, fileID)
	if err != nil {
		if storage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, ErrNotFound)
			return
		}
		logging.WithContext(r.Context(), h.Logger).Error("load file failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, newFileResponse(file))
}

func (h *Handler) setFileVisibility(w http.ResponseWriter, r *http.Request, fileID string, public bool) {
	user, ok := requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	file, err := h.Files.SetVisibility(user.ID, fileID, public)
	if err != nil {
		if storage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, ErrNotFound)
			return
		}
		logging.WithContext(r.Context(), h.Logger).Error("update file visibility failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}

	logging.WithContext(r.Context(), h.Logger).Info("file visibility changed",
		slog.String("file_id", file.ID),
		slog.Bool("public", file.IsPublic))
	writeJSON(w, http.StatusOK, newFileResponse(file))
}

// fileData streams raw content. Authentication is optional here: public
// documents are readable by anyone, private ones only by their owner.
func (h *Handler) fileData(w http.ResponseWriter, r *http.Request, fileID string) {
	userID := ""
	if user, ok := UserFromContext(r.Context()); ok {
		userID = user.ID
	}

	content, err := h.Files.Data(r.Context(), userID, fileID)
	if err != nil {
		if files.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if storage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, ErrNotFound)
			return
		}
		logging.WithContext(r.Context(), h.Logger).Error("open file content failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	defer content.Reader.Close()

	w.Header().Set("Content-Type", content.ContentType)
	if _, err := io.Copy(w, content.Reader); err != nil {
		logging.WithContext(r.Context(), h.Logger).Warn("stream file content interrupted", slog.String("error", err.Error()))
	}
}
