// Package api implements the HTTP handlers for the file management
// service.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"filevault/internal/auth"
	"filevault/internal/files"
	"filevault/internal/models"
	"filevault/internal/observability/logging"
	"filevault/internal/observability/metrics"
	"filevault/internal/storage"
)

// Handler bundles the dependencies shared by all endpoints.
type Handler struct {
	Store    storage.Repository
	Sessions *auth.SessionManager
	Files    *files.Service
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

// NewHandler wires a Handler. Logger and Metrics fall back to the process
// defaults when nil.
func NewHandler(store storage.Repository, sessions *auth.SessionManager, fileService *files.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:    store,
		Sessions: sessions,
		Files:    fileService,
		Logger:   logging.WithComponent(logger, "api"),
		Metrics:  metrics.Default(),
	}
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func newUserResponse(user models.User) userResponse {
	return userResponse{ID: user.ID, Email: user.Email}
}

// CreateUser registers a new account from an email and password pair.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		// Malformed bodies read as absent fields.
		payload.Email = ""
	}
	if payload.Email == "" {
		writeError(w, http.StatusBadRequest, errors.New("Missing email"))
		return
	}
	if payload.Password == "" {
		writeError(w, http.StatusBadRequest, errors.New("Missing password"))
		return
	}

	user, err := h.Store.CreateUser(storage.CreateUserParams{Email: payload.Email, Password: payload.Password})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			writeError(w, http.StatusBadRequest, errors.New("Already exist"))
			return
		}
		logging.WithContext(r.Context(), h.Logger).Error("create user failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}

	logging.WithContext(r.Context(), h.Logger).Info("user registered", slog.String("user_id", user.ID))
	writeJSON(w, http.StatusCreated, newUserResponse(user))
}

// CurrentUser returns the account behind the presented token.
func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user, ok := requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}

// Connect exchanges Basic credentials for a bearer token.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	email, password, ok := r.BasicAuth()
	if !ok {
		h.Metrics.ObserveAuth(false)
		writeError(w, http.StatusUnauthorized, ErrUnauthorized)
		return
	}

	user, err := h.Store.AuthenticateUser(email, password)
	if err != nil {
		if !errors.Is(err, storage.ErrInvalidCredentials) {
			logging.WithContext(r.Context(), h.Logger).Error("authenticate user failed", slog.String("error", err.Error()))
		}
		h.Metrics.ObserveAuth(false)
		writeError(w, http.StatusUnauthorized, ErrUnauthorized)
		return
	}

	token, err := h.Sessions.Create(user.ID)
	if err != nil {
		logging.WithContext(r.Context(), h.Logger).Error("issue token failed", slog.String("error", err.Error()))
		h.Metrics.ObserveAuth(false)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}

	h.Metrics.ObserveAuth(true)
	logging.WithContext(r.Context(), h.Logger).Info("token issued", slog.String("user_id", user.ID))
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Disconnect revokes the presented token. Revoking a token that is not
// active fails, so a second disconnect with the same token returns 401.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	token := ExtractToken(r)
	revoked, err := h.Sessions.Revoke(token)
	if err != nil {
		logging.WithContext(r.Context(), h.Logger).Error("revoke token failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	if !revoked {
		writeError(w, http.StatusUnauthorized, ErrUnauthorized)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status reports whether the session store and the repository are
// reachable.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	writeJSON(w, http.StatusOK, map[string]bool{
		"redis": h.Sessions.Ping(ctx) == nil,
		"db":    h.Store.Ping(ctx) == nil,
	})
}

// Stats reports how many users and documents exist.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Store.Stats(r.Context())
	if err != nil {
		logging.WithContext(r.Context(), h.Logger).Error("count records failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"users": counts.Users,
		"files": counts.Files,
	})
}
