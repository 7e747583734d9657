package rag

import (
	"math"
	"strings"

	"github.com/SantiagoCoronado/personal-rag-system/pkg/models"
)

const contextSeparator = "\n\n"

// ContextBuilder assembles the prompt context from ranked similarity
// results under a character budget.
type ContextBuilder struct {
	MinSimilarity   float64 // results below this are dropped
	MaxContextChars int     // budget for the assembled context, separators included
}

// Build filters results below MinSimilarity, then accumulates chunk texts
// in the given (already-ranked) order until the next chunk would blow the
// budget; later results are dropped, never reordered to fit. Each distinct
// document contributes one source entry, taken from its first surviving
// chunk; later chunks from the same document still add text.
//
// An all-filtered input yields an empty bundle, which the orchestrator
// treats as "insufficient context", not as an error.
func (b ContextBuilder) Build(results []models.SimilarityResult) models.ContextBundle {
	var parts []string
	sources := []models.Source{}
	used := 0

	for _, r := range results {
		if r.Similarity < b.MinSimilarity {
			continue
		}
		text := strings.TrimSpace(r.ChunkText)
		if text == "" {
			continue
		}

		need := len(text)
		if len(parts) > 0 {
			need += len(contextSeparator)
		}
		if used+need > b.MaxContextChars {
			break
		}

		parts = append(parts, text)
		used += need

		if !hasDocument(sources, r.DocumentID) {
			sources = append(sources, models.Source{
				DocumentID:       r.DocumentID,
				DocumentFilename: r.DocumentFilename,
				ChunkIndex:       r.ChunkIndex,
				Similarity:       round3(r.Similarity),
			})
		}
	}

	return models.ContextBundle{
		Context: strings.Join(parts, contextSeparator),
		Sources: sources,
	}
}

func hasDocument(sources []models.Source, documentID string) bool {
	for _, s := range sources {
		if s.DocumentID == documentID {
			return true
		}
	}
	return false
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
