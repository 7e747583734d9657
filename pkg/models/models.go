package models

import "time"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type Document struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is one bounded piece of a document's cleaned text, the unit of
// embedding and retrieval. StartChar/EndChar are cumulative character
// counters over the emitted chunks, kept for statistics.
type Chunk struct {
	Index     int    `json:"chunk_index"`
	Text      string `json:"text"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	Length    int    `json:"length"`
}

// CandidateChunk is a stored chunk plus its embedding, as loaded for one
// similarity scan.
type CandidateChunk struct {
	ChunkID          int64
	DocumentID       string
	DocumentFilename string
	ChunkText        string
	ChunkIndex       int
	Vector           []float32
}

type SimilarityResult struct {
	ChunkID          int64   `json:"chunk_id"`
	DocumentID       string  `json:"document_id"`
	DocumentFilename string  `json:"document_filename"`
	ChunkText        string  `json:"chunk_text"`
	ChunkIndex       int     `json:"chunk_index"`
	Similarity       float64 `json:"similarity"`
}

type Source struct {
	DocumentID       string  `json:"document_id"`
	DocumentFilename string  `json:"document_filename"`
	ChunkIndex       int     `json:"chunk_index"`
	Similarity       float64 `json:"similarity"`
}

// ContextBundle is the assembled context for one query. An empty Context
// is a normal outcome, not an error.
type ContextBundle struct {
	Context string   `json:"context"`
	Sources []Source `json:"sources"`
}

type QueryRecord struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Query       string    `json:"query"`
	Answer      string    `json:"answer"`
	SourceCount int       `json:"source_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type QueryResponse struct {
	Query       string   `json:"query"`
	Answer      string   `json:"answer"`
	Sources     []Source `json:"sources"`
	ContextUsed bool     `json:"context_used"`
}
