package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"filevault/internal/models"
)

const pgUniqueViolation = "23505"

// PostgresRepository persists users and documents to Postgres, allowing
// multiple API replicas to share state.
type PostgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository opens a Postgres-backed repository and ensures the
// schema exists.
func NewPostgresRepository(dsn string, opts ...Option) (*PostgresRepository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &PostgresRepository{pool: pool, cfg: cfg}
	if err := repo.ensureSchema(); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Close releases the Postgres connection pool resources.
func (r *PostgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *PostgresRepository) opContext() (context.Context, context.CancelFunc) {
	if r.cfg.AcquireTimeout > 0 {
		return context.WithTimeout(context.Background(), r.cfg.AcquireTimeout)
	}
	return context.Background(), func() {}
}

func (r *PostgresRepository) ensureSchema() error {
	ctx, cancel := r.opContext()
	defer cancel()
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL REFERENCES users (id),
    name        TEXT NOT NULL,
    type        TEXT NOT NULL,
    is_public   BOOLEAN NOT NULL DEFAULT FALSE,
    parent_id   TEXT NOT NULL DEFAULT '',
    storage_key TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS files_user_parent_idx ON files (user_id, parent_id);
`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("postgres pool not configured")
	}
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Stats(ctx context.Context) (Counts, error) {
	var counts Counts
	row := r.pool.QueryRow(ctx, `SELECT (SELECT count(*) FROM users), (SELECT count(*) FROM files)`)
	if err := row.Scan(&counts.Users, &counts.Files); err != nil {
		return Counts{}, fmt.Errorf("count records: %w", err)
	}
	return counts, nil
}

func (r *PostgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
	normalizedEmail := strings.TrimSpace(strings.ToLower(params.Email))
	if normalizedEmail == "" {
		return models.User{}, errors.New("email is required")
	}
	if params.Password == "" {
		return models.User{}, errors.New("password is required")
	}

	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}
	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:           id,
		Email:        normalizedEmail,
		PasswordHash: hashed,
		CreatedAt:    time.Now().UTC(),
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx, `
INSERT INTO users (id, email, password_hash, created_at)
VALUES ($1, $2, $3, $4)
`, user.ID, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrDuplicateEmail
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) GetUser(id string) (models.User, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `
SELECT id, email, password_hash, created_at
FROM users
WHERE id = $1
`, id)
	user, err := scanUser(row)
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *PostgresRepository) FindUserByEmail(email string) (models.User, bool) {
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	ctx, cancel := r.opContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `
SELECT id, email, password_hash, created_at
FROM users
WHERE email = $1
`, normalizedEmail)
	user, err := scanUser(row)
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *PostgresRepository) AuthenticateUser(email, password string) (models.User, error) {
	if password == "" {
		return models.User{}, ErrInvalidCredentials
	}
	user, ok := r.FindUserByEmail(email)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *PostgresRepository) CreateFile(params CreateFileParams) (models.File, error) {
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

	ctx, cancel := r.opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx, `
INSERT INTO files (id, user_id, name, type, is_public, parent_id, storage_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, file.ID, file.UserID, file.Name, string(file.Type), file.IsPublic, file.ParentID, file.StorageKey, file.CreatedAt)
	if err != nil {
		return models.File{}, fmt.Errorf("insert file: %w", err)
	}
	return file, nil
}

func (r *PostgresRepository) GetFile(id string) (models.File, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `
SELECT id, user_id, name, type, is_public, parent_id, storage_key, created_at
FROM files
WHERE id = $1
`, id)
	file, err := scanFile(row)
	if err != nil {
		return models.File{}, false
	}
	return file, true
}

func (r *PostgresRepository) ListFiles(params ListFilesParams) []models.File {
	perPage := params.PerPage
	if perPage <= 0 {
		perPage = DefaultFilesPerPage
	}
	page := params.Page
	if page < 0 {
		page = 0
	}

	query := `
SELECT id, user_id, name, type, is_public, parent_id, storage_key, created_at
FROM files
WHERE user_id = $1
`
	args := []any{params.UserID}
	if params.ParentID != nil {
		query += ` AND parent_id = $2`
		args = append(args, *params.ParentID)
	}
	query += fmt.Sprintf(` ORDER BY created_at, id LIMIT %d OFFSET %d`, perPage, page*perPage)

	ctx, cancel := r.opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return []models.File{}
	}
	defer rows.Close()

	files := make([]models.File, 0, perPage)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return []models.File{}
		}
		files = append(files, file)
	}
	if rows.Err() != nil {
		return []models.File{}
	}
	return files
}

func (r *PostgresRepository) SetFileVisibility(id string, public bool) (models.File, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `
UPDATE files
SET is_public = $2
WHERE id = $1
RETURNING id, user_id, name, type, is_public, parent_id, storage_key, created_at
`, id, public)
	file, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.File{}, fmt.Errorf("file %s: %w", id, ErrNotFound)
		}
		return models.File{}, fmt.Errorf("update file visibility: %w", err)
	}
	return file, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func scanFile(row rowScanner) (models.File, error) {
	var (
		file     models.File
		fileType string
	)
	if err := row.Scan(&file.ID, &file.UserID, &file.Name, &fileType, &file.IsPublic, &file.ParentID, &file.StorageKey, &file.CreatedAt); err != nil {
		return models.File{}, err
	}
	file.Type = models.FileType(fileType)
	return file, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
