package chatstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// Memory implements Store in process memory with the same semantics as
// the Postgres store. It backs tests and single-process runs.
type Memory struct {
	mu sync.Mutex

	sessions map[string]*domain.Session
	handles  map[int64]string
	messages map[string][]domain.Message
	files    map[int64]*domain.FileDocument
	sections map[int64][]domain.FileSection
	users    map[string]*domain.User

	nextHandle int64
	nextFileID int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*domain.Session),
		handles:  make(map[int64]string),
		messages: make(map[string][]domain.Message),
		files:    make(map[int64]*domain.FileDocument),
		sections: make(map[int64][]domain.FileSection),
		users:    make(map[string]*domain.User),
	}
}

// CreateSession creates a session owned by owner.
func (s *Memory) CreateSession(_ context.Context, owner, title string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextHandle++
	now := time.Now().UTC()
	sess := &domain.Session{
		ID:        uuid.New().String(),
		Handle:    s.nextHandle,
		Owner:     owner,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sess.ID] = sess
	s.handles[sess.Handle] = sess.ID

	out := *sess
	return &out, nil
}

// GetSession returns the session with the given internal ID.
func (s *Memory) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLocked(sessionID)
}

// GetSessionByHandle returns the session with the given numeric handle.
func (s *Memory) GetSessionByHandle(_ context.Context, handle int64) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.handles[handle]
	if !ok {
		return nil, domain.Newf(domain.KindNotFound, "session %d not found", handle)
	}
	return s.sessionLocked(id)
}

func (s *Memory) sessionLocked(sessionID string) (*domain.Session, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.Newf(domain.KindNotFound, "session %s not found", sessionID)
	}
	out := *sess
	return &out, nil
}

// DeleteSession removes a session and its messages.
func (s *Memory) DeleteSession(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, nil
	}
	delete(s.handles, sess.Handle)
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	return true, nil
}

// AddMessage appends a message, assigning the next dense index.
func (s *Memory) AddMessage(_ context.Context, sessionID string, role domain.Role, content string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.Newf(domain.KindNotFound, "session %s not found", sessionID)
	}

	now := time.Now().UTC()
	msg := domain.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Index:     len(s.messages[sessionID]),
		CreatedAt: now,
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	sess.UpdatedAt = now

	return &msg, nil
}

// ListMessages returns messages in index order; a positive limit keeps
// only the most recent limit entries.
func (s *Memory) ListMessages(_ context.Context, sessionID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// CreateFile registers an uploaded file in status pending.
func (s *Memory) CreateFile(_ context.Context, filename, path string) (*domain.FileDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextFileID++
	now := time.Now().UTC()
	f := &domain.FileDocument{
		ID:        s.nextFileID,
		Filename:  filename,
		Path:      path,
		Status:    domain.FilePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.files[f.ID] = f

	out := *f
	return &out, nil
}

// GetFile returns file metadata with legacy status normalization.
func (s *Memory) GetFile(_ context.Context, fileID int64) (*domain.FileDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[fileID]
	if !ok {
		return nil, domain.Newf(domain.KindNotFound, "file %d not found", fileID)
	}
	out := *f
	out.Status = normalizeFileStatus(out.Status, out.TotalChunks)
	return &out, nil
}

// ListFiles returns all files, newest first.
func (s *Memory) ListFiles(_ context.Context) ([]domain.FileDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.FileDocument, 0, len(s.files))
	for _, f := range s.files {
		item := *f
		item.Status = normalizeFileStatus(item.Status, item.TotalChunks)
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// UpdateFileStatus transitions a file's lifecycle state.
func (s *Memory) UpdateFileStatus(_ context.Context, fileID int64, status domain.FileStatus, errorMessage string, totalChunks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[fileID]
	if !ok {
		return domain.Newf(domain.KindNotFound, "file %d not found", fileID)
	}
	f.Status = status
	f.ErrorMessage = errorMessage
	f.TotalChunks = totalChunks
	f.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteFile removes a file and its sections.
func (s *Memory) DeleteFile(_ context.Context, fileID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[fileID]; !ok {
		return false, nil
	}
	delete(s.files, fileID)
	delete(s.sections, fileID)
	return true, nil
}

// AddSections persists extracted sections for a file.
func (s *Memory) AddSections(_ context.Context, fileID int64, sections []domain.FileSection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[fileID]; !ok {
		return domain.Newf(domain.KindNotFound, "file %d not found", fileID)
	}
	s.sections[fileID] = append(s.sections[fileID], sections...)
	return nil
}

// ListSections returns a file's sections in section order.
func (s *Memory) ListSections(_ context.Context, fileID int64) ([]domain.FileSection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secs := s.sections[fileID]
	out := make([]domain.FileSection, len(secs))
	copy(out, secs)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// CreateUser registers an account.
func (s *Memory) CreateUser(_ context.Context, email, passwordHash, fullName string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[email]; exists {
		return nil, domain.New(domain.KindValidation, "email already registered")
	}
	u := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		FullName:     fullName,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[email] = u

	out := *u
	return &out, nil
}

// GetUserByEmail returns the account registered under email.
func (s *Memory) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[email]
	if !ok {
		return nil, domain.Newf(domain.KindNotFound, "no user for email %s", email)
	}
	out := *u
	return &out, nil
}

// Ping always succeeds.
func (s *Memory) Ping(context.Context) error { return nil }

// Health reports the in-process store as connected.
func (s *Memory) Health(context.Context) HealthInfo {
	return HealthInfo{Configured: true, Connected: true}
}

// Close is a no-op.
func (s *Memory) Close() {}

var _ Store = (*Memory)(nil)
