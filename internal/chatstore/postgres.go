package chatstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// pgUniqueViolation is the Postgres error code for unique constraint hits.
const pgUniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	full_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sessions (
	id UUID PRIMARY KEY,
	handle BIGSERIAL NOT NULL UNIQUE,
	owner TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
	session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	idx INT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (session_id, idx)
);

CREATE TABLE IF NOT EXISTS files (
	id BIGSERIAL PRIMARY KEY,
	filename TEXT NOT NULL,
	path TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	total_chunks INT NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS files_status_idx ON files (status);

CREATE TABLE IF NOT EXISTS file_sections (
	file_id BIGINT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	section_index INT NOT NULL,
	page_start INT NOT NULL DEFAULT 0,
	page_end INT NOT NULL DEFAULT 0,
	section_type TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL,
	PRIMARY KEY (file_id, section_index)
);
`

// Postgres implements Store on pgx.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// PostgresConfig configures the Postgres store.
type PostgresConfig struct {
	URL      string
	MaxConns int
}

// NewPostgres connects to Postgres and ensures the schema exists.
func NewPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	s := &Postgres{pool: pool, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close releases the connection pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// CreateSession creates a session owned by owner.
func (s *Postgres) CreateSession(ctx context.Context, owner, title string) (*domain.Session, error) {
	sess := &domain.Session{
		ID:    uuid.New().String(),
		Owner: owner,
		Title: title,
	}

	row := s.pool.QueryRow(ctx, `
INSERT INTO sessions (id, owner, title)
VALUES ($1, $2, $3)
RETURNING handle, created_at, updated_at`, sess.ID, owner, title)
	if err := row.Scan(&sess.Handle, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, storageErr("create session", err)
	}

	s.logger.Debug("created session",
		zap.String("session_id", sess.ID),
		zap.Int64("handle", sess.Handle),
	)
	return sess, nil
}

// GetSession returns the session with the given internal ID.
func (s *Postgres) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.scanSession(ctx, `
SELECT id, handle, owner, title, created_at, updated_at
FROM sessions WHERE id = $1`, sessionID)
}

// GetSessionByHandle returns the session with the given numeric handle.
func (s *Postgres) GetSessionByHandle(ctx context.Context, handle int64) (*domain.Session, error) {
	return s.scanSession(ctx, `
SELECT id, handle, owner, title, created_at, updated_at
FROM sessions WHERE handle = $1`, handle)
}

func (s *Postgres) scanSession(ctx context.Context, query string, arg any) (*domain.Session, error) {
	var sess domain.Session
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&sess.ID, &sess.Handle, &sess.Owner, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Newf(domain.KindNotFound, "session %v not found", arg)
	}
	if err != nil {
		return nil, storageErr("get session", err)
	}
	return &sess, nil
}

// DeleteSession removes a session; messages cascade.
func (s *Postgres) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return false, storageErr("delete session", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AddMessage appends a message under the session row lock, assigning the
// next dense index.
func (s *Postgres) AddMessage(ctx context.Context, sessionID string, role domain.Role, content string) (*domain.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The row lock serializes writers per session so indices stay dense.
	var lockedID string
	err = tx.QueryRow(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&lockedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Newf(domain.KindNotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return nil, storageErr("lock session", err)
	}

	var next int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(idx) + 1, 0) FROM messages WHERE session_id = $1`, sessionID,
	).Scan(&next); err != nil {
		return nil, storageErr("next message index", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
INSERT INTO messages (session_id, idx, role, content, created_at)
VALUES ($1, $2, $3, $4, $5)`, sessionID, next, string(role), content, now); err != nil {
		return nil, storageErr("insert message", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET updated_at = $2 WHERE id = $1`, sessionID, now); err != nil {
		return nil, storageErr("touch session", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit message", err)
	}

	return &domain.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Index:     next,
		CreatedAt: now,
	}, nil
}

// ListMessages returns messages in index order; a positive limit keeps
// only the most recent limit entries.
func (s *Postgres) ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	query := `
SELECT session_id, idx, role, content, created_at
FROM messages WHERE session_id = $1 ORDER BY idx`
	args := []any{sessionID}
	if limit > 0 {
		query = `
SELECT session_id, idx, role, content, created_at FROM (
	SELECT session_id, idx, role, content, created_at
	FROM messages WHERE session_id = $1 ORDER BY idx DESC LIMIT $2
) recent ORDER BY idx`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&m.SessionID, &m.Index, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, storageErr("scan message", err)
		}
		m.Role = domain.Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate messages", err)
	}
	return out, nil
}

// CreateFile registers an uploaded file in status pending.
func (s *Postgres) CreateFile(ctx context.Context, filename, path string) (*domain.FileDocument, error) {
	f := &domain.FileDocument{
		Filename: filename,
		Path:     path,
		Status:   domain.FilePending,
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO files (filename, path)
VALUES ($1, $2)
RETURNING id, created_at, updated_at`, filename, path)
	if err := row.Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, storageErr("create file", err)
	}
	return f, nil
}

// GetFile returns file metadata. Legacy rows left in status ready with
// chunks already stored read back as indexed.
func (s *Postgres) GetFile(ctx context.Context, fileID int64) (*domain.FileDocument, error) {
	var f domain.FileDocument
	var status string
	err := s.pool.QueryRow(ctx, `
SELECT id, filename, path, status, total_chunks, error_message, created_at, updated_at
FROM files WHERE id = $1`, fileID).Scan(
		&f.ID, &f.Filename, &f.Path, &status, &f.TotalChunks, &f.ErrorMessage, &f.CreatedAt, &f.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Newf(domain.KindNotFound, "file %d not found", fileID)
	}
	if err != nil {
		return nil, storageErr("get file", err)
	}
	f.Status = normalizeFileStatus(domain.FileStatus(status), f.TotalChunks)
	return &f, nil
}

// ListFiles returns all files, newest first.
func (s *Postgres) ListFiles(ctx context.Context) ([]domain.FileDocument, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, filename, path, status, total_chunks, error_message, created_at, updated_at
FROM files ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, storageErr("list files", err)
	}
	defer rows.Close()

	var out []domain.FileDocument
	for rows.Next() {
		var f domain.FileDocument
		var status string
		if err := rows.Scan(&f.ID, &f.Filename, &f.Path, &status, &f.TotalChunks,
			&f.ErrorMessage, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, storageErr("scan file", err)
		}
		f.Status = normalizeFileStatus(domain.FileStatus(status), f.TotalChunks)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate files", err)
	}
	return out, nil
}

// UpdateFileStatus transitions a file's lifecycle state.
func (s *Postgres) UpdateFileStatus(ctx context.Context, fileID int64, status domain.FileStatus, errorMessage string, totalChunks int) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE files SET status = $2, error_message = $3, total_chunks = $4, updated_at = NOW()
WHERE id = $1`, fileID, string(status), errorMessage, totalChunks)
	if err != nil {
		return storageErr("update file status", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Newf(domain.KindNotFound, "file %d not found", fileID)
	}
	return nil
}

// DeleteFile removes a file; sections cascade.
func (s *Postgres) DeleteFile(ctx context.Context, fileID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, fileID)
	if err != nil {
		return false, storageErr("delete file", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AddSections persists extracted sections for a file.
func (s *Postgres) AddSections(ctx context.Context, fileID int64, sections []domain.FileSection) error {
	if len(sections) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, sec := range sections {
		if _, err := tx.Exec(ctx, `
INSERT INTO file_sections (file_id, section_index, page_start, page_end, section_type, body)
VALUES ($1, $2, $3, $4, $5, $6)`,
			fileID, sec.Index, sec.PageStart, sec.PageEnd, sec.Type, sec.Text); err != nil {
			return storageErr("insert section", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit sections", err)
	}
	return nil
}

// ListSections returns a file's sections in section order.
func (s *Postgres) ListSections(ctx context.Context, fileID int64) ([]domain.FileSection, error) {
	rows, err := s.pool.Query(ctx, `
SELECT file_id, section_index, page_start, page_end, section_type, body
FROM file_sections WHERE file_id = $1 ORDER BY section_index`, fileID)
	if err != nil {
		return nil, storageErr("list sections", err)
	}
	defer rows.Close()

	var out []domain.FileSection
	for rows.Next() {
		var sec domain.FileSection
		if err := rows.Scan(&sec.FileID, &sec.Index, &sec.PageStart, &sec.PageEnd, &sec.Type, &sec.Text); err != nil {
			return nil, storageErr("scan section", err)
		}
		out = append(out, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate sections", err)
	}
	return out, nil
}

// CreateUser registers an account.
func (s *Postgres) CreateUser(ctx context.Context, email, passwordHash, fullName string) (*domain.User, error) {
	u := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		FullName:     fullName,
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO users (id, email, password_hash, full_name)
VALUES ($1, $2, $3, $4)
RETURNING created_at`, u.ID, email, passwordHash, fullName)
	if err := row.Scan(&u.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, domain.New(domain.KindValidation, "email already registered")
		}
		return nil, storageErr("create user", err)
	}
	return u, nil
}

// GetUserByEmail returns the account registered under email.
func (s *Postgres) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx, `
SELECT id, email, password_hash, full_name, created_at
FROM users WHERE email = $1`, email).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Newf(domain.KindNotFound, "no user for email %s", email)
	}
	if err != nil {
		return nil, storageErr("get user", err)
	}
	return &u, nil
}

// Ping verifies connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return domain.Wrap(domain.KindStorage, "database unreachable", err)
	}
	return nil
}

// Health reports connectivity and whether the vector extension is
// installed alongside the relational schema.
func (s *Postgres) Health(ctx context.Context) HealthInfo {
	info := HealthInfo{Configured: true}

	if err := s.pool.Ping(ctx); err != nil {
		return info
	}
	info.Connected = true

	var installed bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`,
	).Scan(&installed)
	if err != nil {
		s.logger.Warn("vector extension check failed", zap.Error(err))
		return info
	}
	info.VectorExtInstalled = installed
	return info
}

// normalizeFileStatus maps legacy ready rows that already carry chunks to
// indexed, keeping retrieval eligibility a single status check.
func normalizeFileStatus(status domain.FileStatus, totalChunks int) domain.FileStatus {
	if status == domain.FileReady && totalChunks > 0 {
		return domain.FileIndexed
	}
	return status
}

func storageErr(op string, err error) error {
	return domain.Wrap(domain.KindStorage, op+" failed", err)
}

var _ Store = (*Postgres)(nil)
