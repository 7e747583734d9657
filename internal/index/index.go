// Package index ranks candidate chunks against a query embedding with a
// brute-force cosine scan. The scan is a pure function over the supplied
// candidate set: callers scope candidates to one owner, and an
// approximate-nearest-neighbor backend could replace it behind the same
// contract.
package index

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/SantiagoCoronado/personal-rag-system/pkg/models"
)

// Search computes cosine similarity between query and every candidate and
// returns the top-K results, sorted by similarity descending. Ties keep
// candidate input order, so identical inputs rank deterministically.
//
// Candidates whose vector dimension does not match the query are skipped
// and logged; one corrupt stored vector must not fail the whole query.
// Zero-norm vectors are excluded because their similarity is undefined.
func Search(query []float32, candidates []models.CandidateChunk, topK int) []models.SimilarityResult {
	results := make([]models.SimilarityResult, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) != len(query) {
			log.Warn().
				Int64("chunk_id", c.ChunkID).
				Str("document_id", c.DocumentID).
				Int("dim", len(c.Vector)).
				Int("query_dim", len(query)).
				Msg("skipping chunk with mismatched embedding dimension")
			continue
		}
		sim, ok := Cosine(query, c.Vector)
		if !ok {
			continue
		}
		results = append(results, models.SimilarityResult{
			ChunkID:          c.ChunkID,
			DocumentID:       c.DocumentID,
			DocumentFilename: c.DocumentFilename,
			ChunkText:        c.ChunkText,
			ChunkIndex:       c.ChunkIndex,
			Similarity:       sim,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Cosine returns the cosine similarity of a and b. ok is false when either
// vector has zero norm, where the similarity is undefined. Accumulation is
// done in float64 to keep the result stable for high-dimensional vectors.
func Cosine(a, b []float32) (float64, bool) {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
