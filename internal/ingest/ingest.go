// Package ingest turns raw document text into stored, embedded chunks.
package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"

	"github.com/SantiagoCoronado/personal-rag-system/internal/chunker"
	"github.com/SantiagoCoronado/personal-rag-system/pkg/models"
)

// ErrEmptyDocument is returned when a document has no usable text after
// cleaning.
var ErrEmptyDocument = errors.New("document contains no usable text")

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Embedder produces one vector per text, in order.
type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the persistence the pipeline needs.
type Store interface {
	CreateDocument(ctx context.Context, userID, filename string) (models.Document, error)
	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.Chunk, vectors [][]float32) error
}

// Service runs the ingestion pipeline: clean, chunk, embed, store. The
// chunk swap is transactional, so a document is never observable with a
// partial chunk set.
type Service struct {
	store      Store
	embedder   Embedder
	chunker    *chunker.Chunker
	Walker     FileSystemWalker
	FileReader FileReader
	log        zerolog.Logger
}

func NewService(store Store, embedder Embedder, ch *chunker.Chunker, log zerolog.Logger) *Service {
	return &Service{
		store:      store,
		embedder:   embedder,
		chunker:    ch,
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
		log:        log,
	}
}

// IngestText replaces the document's chunks with freshly cleaned,
// chunked, and embedded content.
func (s *Service) IngestText(ctx context.Context, documentID, raw string) (chunker.Stats, error) {
	cleaned := chunker.Clean(raw)
	if cleaned == "" {
		return chunker.Stats{}, ErrEmptyDocument
	}

	chunks := s.chunker.Split(cleaned)
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	vectors, err := s.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return chunker.Stats{}, err
	}

	if err := s.store.ReplaceDocumentChunks(ctx, documentID, chunks, vectors); err != nil {
		return chunker.Stats{}, err
	}

	stats := chunker.Summarize(chunks)
	s.log.Info().
		Str("document_id", documentID).
		Int("chunks", stats.TotalChunks).
		Int("total_chars", stats.TotalChars).
		Msg("document ingested")
	return stats, nil
}

// IngestDirectory walks root and ingests every eligible text file as a
// new document owned by userID. Unreadable or empty files are logged and
// skipped; the walk continues.
func (s *Service) IngestDirectory(ctx context.Context, userID, root string) (int, error) {
	ingested := 0

	walkErr := s.Walker.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				return nil
			}
			if !eligible(path) {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			b, err := s.FileReader.ReadFile(path)
			if err != nil {
				s.log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				return nil
			}

			doc, err := s.store.CreateDocument(ctx, userID, filepath.Base(path))
			if err != nil {
				return err
			}

			if _, err := s.IngestText(ctx, doc.ID, string(b)); err != nil {
				if errors.Is(err, ErrEmptyDocument) {
					s.log.Warn().Str("path", path).Msg("skipping empty document")
					return nil
				}
				return err
			}

			ingested++
			return nil
		},
	})

	return ingested, walkErr
}

// eligible reports whether path looks like a plain-text document.
func eligible(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".text", ".markdown":
		return true
	}
	return false
}
