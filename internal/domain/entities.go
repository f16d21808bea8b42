package domain

import "time"

// EmbeddingDim is the fixed dimensionality of every stored vector.
// The vector column, the embedding providers, and the search path all
// assume this width; configuration that disagrees is rejected at boot.
const EmbeddingDim = 768

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Session is one conversation owned by a user. ID is the opaque internal
// identity; Handle is the numeric identity the HTTP surface speaks.
type Session struct {
	ID        string
	Handle    int64
	Owner     string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one turn entry in a session. Index is dense from 0 and
// strictly increasing within the session.
type Message struct {
	SessionID string
	Role      Role
	Content   string
	Index     int
	CreatedAt time.Time
}

// FileStatus is the lifecycle state of an uploaded document.
//
//	pending -> processing -> ready -> indexed
//	       \________any________/ -> error
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileProcessing FileStatus = "processing"
	FileReady      FileStatus = "ready"
	FileIndexed    FileStatus = "indexed"
	FileError      FileStatus = "error"
)

// Indexable reports whether a file in this status may enter the indexing
// pipeline. Pending files are extracted as the first pipeline stage;
// indexed files re-enter via explicit re-index. Files in error need a
// fresh upload, and processing means a run is already in flight.
func (s FileStatus) Indexable() bool {
	return s == FilePending || s == FileReady || s == FileIndexed
}

// FileDocument is the metadata record for an uploaded document.
// Only files in status indexed are valid retrieval targets.
type FileDocument struct {
	ID           int64
	Filename     string
	Path         string
	Status       FileStatus
	TotalChunks  int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FileSection is an extracted, immutable slice of a document in reading
// order. Sections are the unit the chunker consumes.
type FileSection struct {
	FileID    int64
	Index     int
	PageStart int
	PageEnd   int
	Type      string
	Text      string
}

// Chunk is a bounded contiguous text slice paired with its embedding.
// Index is dense from 0 per file, assigned in emission order.
type Chunk struct {
	FileID      int64
	Index       int
	Text        string
	Embedding   []float32
	PageNumber  int
	SectionType string
	FileName    string
}

// ThreatLevel grades a guardian verdict.
type ThreatLevel string

const (
	ThreatNone   ThreatLevel = "none"
	ThreatLow    ThreatLevel = "low"
	ThreatMedium ThreatLevel = "medium"
	ThreatHigh   ThreatLevel = "high"
)

// GuardianVerdict is the admission decision for a user message.
type GuardianVerdict struct {
	Allowed    bool
	Reason     string
	Level      ThreatLevel
	Categories []string
}

// WebResult is one allow-listed web search hit.
type WebResult struct {
	Title   string
	URL     string
	Snippet string
	Score   float64
	Source  string
}

// TokenMetrics records the approximate token composition of one LLM call.
// The numbers are advisory; correctness never depends on them.
type TokenMetrics struct {
	SessionID     string
	CallIndex     int
	SystemTokens  int
	HistoryTokens int
	UserTokens    int
	WasCached     bool
	Timestamp     time.Time
}

// User is an authenticated account. PasswordHash is an encoded
// memory-hard hash, never the raw credential.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FullName     string
	CreatedAt    time.Time
}
