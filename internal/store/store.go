// Package store persists users, documents, chunks with their embeddings,
// and query history in Postgres with the pgvector extension.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/SantiagoCoronado/personal-rag-system/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies necessary database migrations and schema setup. dim is
// the embedding dimension of the configured backend; vectors of any other
// dimension are rejected by the column type.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS users (
  id            UUID PRIMARY KEY,
  email         TEXT NOT NULL UNIQUE,
  username      TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
  id         UUID PRIMARY KEY,
  user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  filename   TEXT NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS documents_user_idx ON documents (user_id);

CREATE TABLE IF NOT EXISTS chunks (
  id          BIGSERIAL PRIMARY KEY,
  document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
  chunk_index INT NOT NULL,
  chunk_text  TEXT NOT NULL,
  start_char  INT NOT NULL DEFAULT 0,
  end_char    INT NOT NULL DEFAULT 0,
  embedding   vector(%d),
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks (document_id);

CREATE TABLE IF NOT EXISTS query_history (
  id           BIGSERIAL PRIMARY KEY,
  user_id      UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  query        TEXT NOT NULL,
  answer       TEXT NOT NULL,
  source_count INT NOT NULL DEFAULT 0,
  created_at   TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS query_history_user_created_idx
  ON query_history (user_id, created_at DESC);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// CreateUser inserts a user with an already-hashed password.
func (s *Store) CreateUser(ctx context.Context, email, username, passwordHash string) (models.User, error) {
	u := models.User{ID: uuid.NewString(), Email: email, Username: username}
	const q = `
		INSERT INTO users (id, email, username, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	if err := s.pool.QueryRow(ctx, q, u.ID, u.Email, u.Username, passwordHash).Scan(&u.CreatedAt); err != nil {
		return models.User{}, err
	}
	return u, nil
}

// GetUserByEmail returns the user and their password hash.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, string, bool, error) {
	const q = `SELECT id, email, username, password_hash, created_at FROM users WHERE email = $1`
	var u models.User
	var hash string
	err := s.pool.QueryRow(ctx, q, email).Scan(&u.ID, &u.Email, &u.Username, &hash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, "", false, nil
		}
		return models.User{}, "", false, err
	}
	return u, hash, true, nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (models.User, bool, error) {
	const q = `SELECT id, email, username, created_at FROM users WHERE id = $1`
	var u models.User
	err := s.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.Username, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, false, nil
		}
		return models.User{}, false, err
	}
	return u, true, nil
}

// CreateDocument registers a document owned by userID.
func (s *Store) CreateDocument(ctx context.Context, userID, filename string) (models.Document, error) {
	d := models.Document{ID: uuid.NewString(), UserID: userID, Filename: filename}
	const q = `
		INSERT INTO documents (id, user_id, filename)
		VALUES ($1, $2, $3)
		RETURNING created_at`
	if err := s.pool.QueryRow(ctx, q, d.ID, d.UserID, d.Filename).Scan(&d.CreatedAt); err != nil {
		return models.Document{}, err
	}
	return d, nil
}

// GetDocument fetches one document scoped to its owner.
func (s *Store) GetDocument(ctx context.Context, documentID, userID string) (models.Document, bool, error) {
	const q = `SELECT id, user_id, filename, created_at FROM documents WHERE id = $1 AND user_id = $2`
	var d models.Document
	err := s.pool.QueryRow(ctx, q, documentID, userID).Scan(&d.ID, &d.UserID, &d.Filename, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Document{}, false, nil
		}
		return models.Document{}, false, err
	}
	return d, true, nil
}

// ListDocuments returns the user's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	const q = `SELECT id, user_id, filename, created_at FROM documents WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.Filename, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and, via cascade, its chunks. Returns
// whether a row was deleted.
func (s *Store) DeleteDocument(ctx context.Context, documentID, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND user_id = $2`, documentID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CountDocuments reports how many documents the user owns.
func (s *Store) CountDocuments(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM documents WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// ReplaceDocumentChunks swaps a document's chunks and embeddings for a new
// set inside one transaction, so a partial replacement is never observable.
func (s *Store) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return err
	}

	const q = `
		INSERT INTO chunks (document_id, chunk_index, chunk_text, start_char, end_char, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for i, ch := range chunks {
		vec := pgvector.NewVector(vectors[i])
		if _, err := tx.Exec(ctx, q, documentID, ch.Index, ch.Text, ch.StartChar, ch.EndChar, vec); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// CandidatesForUser loads every embedded chunk the user owns, the input to
// one similarity scan.
func (s *Store) CandidatesForUser(ctx context.Context, userID string) ([]models.CandidateChunk, error) {
	const q = `
		SELECT c.id, c.document_id, d.filename, c.chunk_text, c.chunk_index, c.embedding
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.user_id = $1 AND c.embedding IS NOT NULL
		ORDER BY c.document_id, c.chunk_index`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CandidateChunk
	for rows.Next() {
		var c models.CandidateChunk
		var vec pgvector.Vector
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.DocumentFilename, &c.ChunkText, &c.ChunkIndex, &vec); err != nil {
			return nil, err
		}
		c.Vector = vec.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateQueryRecord appends one entry to the user's query history.
func (s *Store) CreateQueryRecord(ctx context.Context, rec models.QueryRecord) error {
	const q = `
		INSERT INTO query_history (user_id, query, answer, source_count)
		VALUES ($1, $2, $3, $4)`
	_, err := s.pool.Exec(ctx, q, rec.UserID, rec.Query, rec.Answer, rec.SourceCount)
	return err
}

// ListQueryHistory returns the user's most recent queries. limit is
// clamped to [1, 50].
func (s *Store) ListQueryHistory(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	const q = `
		SELECT id, user_id, query, answer, source_count, created_at
		FROM query_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Query, &r.Answer, &r.SourceCount, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
