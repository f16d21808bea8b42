package chatstore

import (
	"context"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// Store is the persistence boundary for chat state.
//
// Implementations must keep message indices dense from 0 per session and
// assign them under per-session mutual exclusion. Deleting a session or a
// file cascades to its dependent rows.
type Store interface {
	// CreateSession creates a session owned by owner. The store assigns
	// the internal ID and the numeric handle.
	CreateSession(ctx context.Context, owner, title string) (*domain.Session, error)

	// GetSession returns the session with the given internal ID.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// GetSessionByHandle returns the session with the given numeric handle.
	GetSessionByHandle(ctx context.Context, handle int64) (*domain.Session, error)

	// DeleteSession removes a session and its messages. Returns false
	// when no such session existed.
	DeleteSession(ctx context.Context, sessionID string) (bool, error)

	// AddMessage appends a message to a session, assigning the next dense
	// index. The session's updated_at advances with the write.
	AddMessage(ctx context.Context, sessionID string, role domain.Role, content string) (*domain.Message, error)

	// ListMessages returns a session's messages in index order. A positive
	// limit returns only the most recent limit messages, still ascending.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)

	// CreateFile registers an uploaded file in status pending.
	CreateFile(ctx context.Context, filename, path string) (*domain.FileDocument, error)

	// GetFile returns file metadata by ID.
	GetFile(ctx context.Context, fileID int64) (*domain.FileDocument, error)

	// ListFiles returns all files, newest first.
	ListFiles(ctx context.Context) ([]domain.FileDocument, error)

	// UpdateFileStatus transitions a file's lifecycle state, replacing the
	// stored error message and chunk total.
	UpdateFileStatus(ctx context.Context, fileID int64, status domain.FileStatus, errorMessage string, totalChunks int) error

	// DeleteFile removes a file and its sections. Returns false when no
	// such file existed.
	DeleteFile(ctx context.Context, fileID int64) (bool, error)

	// AddSections persists extracted sections for a file.
	AddSections(ctx context.Context, fileID int64, sections []domain.FileSection) error

	// ListSections returns a file's sections in section order.
	ListSections(ctx context.Context, fileID int64) ([]domain.FileSection, error)

	// CreateUser registers an account. A duplicate email is a validation
	// error.
	CreateUser(ctx context.Context, email, passwordHash, fullName string) (*domain.User, error)

	// GetUserByEmail returns the account registered under email.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Health reports backend health for the database health endpoint.
	Health(ctx context.Context) HealthInfo

	// Close releases held resources.
	Close()
}

// HealthInfo describes database health as exposed by /pg/health.
type HealthInfo struct {
	Configured         bool `json:"configured"`
	Connected          bool `json:"connected"`
	VectorExtInstalled bool `json:"vector_ext_installed"`
}
