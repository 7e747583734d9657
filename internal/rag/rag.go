// Package rag drives one query through the retrieval-augmented generation
// pipeline: validate, embed, retrieve, assemble context, generate, record.
package rag

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/SantiagoCoronado/personal-rag-system/internal/index"
	"github.com/SantiagoCoronado/personal-rag-system/pkg/models"
)

const (
	DefaultTopK = 5
	MaxTopK     = 50
)

// Fixed user-facing answers. Backend error detail stays in the server
// logs, never in these strings.
const (
	answerNoResults    = "I couldn't find any relevant information in your documents to answer this question."
	answerLowRelevance = "I couldn't find sufficiently relevant information in your documents to answer this question."
	answerFailure      = "I'm sorry, but I encountered an error while processing your query. Please try again."
)

// Embedder turns query text into a vector.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Generator produces an answer grounded in the supplied context.
type Generator interface {
	Generate(ctx context.Context, query, contextText string) (string, error)
}

// Store is the persistence the orchestrator needs: the ownership
// precondition, the candidate set for retrieval, and the history log.
type Store interface {
	CountDocuments(ctx context.Context, userID string) (int, error)
	CandidatesForUser(ctx context.Context, userID string) ([]models.CandidateChunk, error)
	CreateQueryRecord(ctx context.Context, rec models.QueryRecord) error
}

// Options tune the orchestrator; zero values fall back to the service
// defaults.
type Options struct {
	MinSimilarity   float64
	MaxContextChars int
	TopKDefault     int
	TopKMax         int
}

// Service orchestrates the RAG pipeline. It holds no per-query state and
// is safe for concurrent use.
type Service struct {
	embedder    Embedder
	generator   Generator
	store       Store
	builder     ContextBuilder
	topKDefault int
	topKMax     int
	log         zerolog.Logger
}

func NewService(embedder Embedder, generator Generator, store Store, opts Options, log zerolog.Logger) *Service {
	if opts.MinSimilarity == 0 {
		opts.MinSimilarity = 0.7
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = 4000
	}
	if opts.TopKDefault <= 0 {
		opts.TopKDefault = DefaultTopK
	}
	if opts.TopKMax <= 0 {
		opts.TopKMax = MaxTopK
	}
	return &Service{
		embedder:  embedder,
		generator: generator,
		store:     store,
		builder: ContextBuilder{
			MinSimilarity:   opts.MinSimilarity,
			MaxContextChars: opts.MaxContextChars,
		},
		topKDefault: opts.TopKDefault,
		topKMax:     opts.TopKMax,
		log:         log,
	}
}

// ProcessQuery answers a user question from their documents.
//
// Validation and precondition failures come back as typed errors
// (ErrEmptyQuery, ErrQueryTooShort, ErrQueryTooLong, ErrNoDocuments)
// without touching any backend. Everything past that point resolves to a
// well-formed response: backend failures yield a fixed apology with the
// underlying error logged server-side only. ContextUsed is true only when
// an answer was generated from retrieved context.
func (s *Service) ProcessQuery(ctx context.Context, userID, query string, topK int) (models.QueryResponse, error) {
	if err := validateQuery(query); err != nil {
		return models.QueryResponse{}, err
	}
	query = strings.TrimSpace(query)

	// Refuse before spending money on embeddings when there is nothing to
	// search.
	n, err := s.store.CountDocuments(ctx, userID)
	if err != nil {
		return s.failed(ctx, userID, query, err), nil
	}
	if n == 0 {
		return models.QueryResponse{}, ErrNoDocuments
	}

	if topK <= 0 {
		topK = s.topKDefault
	}
	if topK > s.topKMax {
		topK = s.topKMax
	}

	s.log.Info().Str("user_id", userID).Int("top_k", topK).Msg("processing query")

	queryVec, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		return s.failed(ctx, userID, query, err), nil
	}

	candidates, err := s.store.CandidatesForUser(ctx, userID)
	if err != nil {
		return s.failed(ctx, userID, query, err), nil
	}

	results := index.Search(queryVec, candidates, topK)
	if len(results) == 0 {
		return s.terminal(ctx, userID, query, answerNoResults, nil), nil
	}

	bundle := s.builder.Build(results)
	if bundle.Context == "" {
		return s.terminal(ctx, userID, query, answerLowRelevance, nil), nil
	}
	s.log.Debug().Int("chunks", len(results)).Int("context_chars", len(bundle.Context)).Msg("built context")

	answer, err := s.generator.Generate(ctx, query, bundle.Context)
	if err != nil {
		return s.failed(ctx, userID, query, err), nil
	}

	resp := s.terminal(ctx, userID, query, answer, bundle.Sources)
	resp.ContextUsed = true
	return resp, nil
}

// terminal records the query in history (best effort) and shapes the
// response. History failures are logged and swallowed; they never change
// the outcome the pipeline already reached.
func (s *Service) terminal(ctx context.Context, userID, query, answer string, sources []models.Source) models.QueryResponse {
	if sources == nil {
		sources = []models.Source{}
	}

	rec := models.QueryRecord{
		UserID:      userID,
		Query:       query,
		Answer:      answer,
		SourceCount: len(sources),
	}
	if err := s.store.CreateQueryRecord(ctx, rec); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to store query history")
	}

	return models.QueryResponse{
		Query:   query,
		Answer:  answer,
		Sources: sources,
	}
}

func (s *Service) failed(ctx context.Context, userID, query string, err error) models.QueryResponse {
	s.log.Error().Err(err).Str("user_id", userID).Msg("query processing failed")
	return s.terminal(ctx, userID, query, answerFailure, nil)
}
