package domain

import "time"

// EmbeddingDimension is the fixed length of every vector stored in the index.
const EmbeddingDimension = 384

// Chunk is a contiguous word window of one document's text.
type Chunk struct {
	Text      string
	Index     int
	StartWord int
	EndWord   int
}

// Metadata fields addressable by a Filter.
const (
	FieldSourcePath  = "source_path"
	FieldSourceType  = "source_type"
	FieldFilename    = "filename"
	FieldFingerprint = "content_fingerprint"
)

// Metadata describes where an indexed chunk came from.
type Metadata struct {
	SourcePath  string    `json:"source_path"`
	SourceType  string    `json:"source_type"`
	Filename    string    `json:"filename"`
	ChunkIndex  int       `json:"sequence_index"`
	IndexedAt   time.Time `json:"indexed_at"`
	Fingerprint string    `json:"content_fingerprint"`
}

// Field returns the string value of a filterable metadata field.
func (m Metadata) Field(name string) (string, bool) {
	switch name {
	case FieldSourcePath:
		return m.SourcePath, true
	case FieldSourceType:
		return m.SourceType, true
	case FieldFilename:
		return m.Filename, true
	case FieldFingerprint:
		return m.Fingerprint, true
	}
	return "", false
}

// IndexedVector is one chunk as persisted in a VectorIndex.
type IndexedVector struct {
	ID       string    `json:"id"`
	Vector   []float64 `json:"vector"`
	Text     string    `json:"text"`
	Metadata Metadata  `json:"metadata"`
}

// RetrievalResult is a ranked match returned by a query.
type RetrievalResult struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	Score    float64  `json:"score"`
}

// Stats summarizes the contents of a VectorIndex.
type Stats struct {
	TotalChunks  int `json:"total_chunks"`
	TotalSources int `json:"total_documents"`
}

// SourceDocument is extracted text plus the metadata shared by all of its chunks.
type SourceDocument struct {
	Text        string
	SourcePath  string
	SourceType  string
	Filename    string
	Fingerprint string
	IndexedAt   time.Time
}

// Document is the registry record of an uploaded file.
type Document struct {
	ID          string     `json:"id" db:"id"`
	Filename    string     `json:"filename" db:"filename"`
	FilePath    string     `json:"file_path" db:"file_path"`
	FileType    string     `json:"file_type" db:"file_type"`
	FileSize    int64      `json:"file_size" db:"file_size"`
	FileHash    string     `json:"file_hash" db:"file_hash"`
	Summary     string     `json:"summary,omitempty" db:"summary"`
	WordCount   int        `json:"word_count" db:"word_count"`
	Processed   bool       `json:"processed" db:"processed"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Truncated bool      `json:"truncated,omitempty"`
}

// SessionPhase tracks the lifecycle of a chat session.
type SessionPhase string

const (
	PhaseNew    SessionPhase = "new"
	PhaseActive SessionPhase = "active"
)

// ConversationState is the per-session chat state.
type ConversationState struct {
	SessionID     string       `json:"session_id"`
	Phase         SessionPhase `json:"phase"`
	History       []Message    `json:"history"`
	ActiveContext string       `json:"active_context,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// CompletionRequest is what a completion provider receives for one turn.
type CompletionRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}
