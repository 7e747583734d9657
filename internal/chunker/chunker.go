package chunker

import (
	"errors"
	"regexp"
	"strings"

	"github.com/SantiagoCoronado/personal-rag-system/pkg/models"
)

// ErrBadConfig reports invalid chunking parameters; this is a caller bug,
// not a data problem.
var ErrBadConfig = errors.New("chunk size must be positive and overlap smaller than chunk size")

// boundaryWindow is how far back from a raw cut we look for a sentence end.
const boundaryWindow = 100

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	specialRe    = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?;:\-()\[\]{}]`)
	pageMarkerRe = regexp.MustCompile(`--- Page \d+ ---`)
)

// Chunker splits cleaned text into overlapping chunks that prefer to end at
// sentence boundaries. It holds only configuration and is safe for
// concurrent use.
type Chunker struct {
	chunkSize int
	overlap   int
}

func New(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 || overlap < 0 || overlap >= chunkSize {
		return nil, ErrBadConfig
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// Clean normalizes raw extracted text: whitespace runs collapse to a single
// space, special characters outside basic punctuation are stripped, and
// page-marker artifacts are removed. Must run before Split so the sentence
// boundary search sees meaningful characters.
func Clean(text string) string {
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = specialRe.ReplaceAllString(text, "")
	text = pageMarkerRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// Split breaks text into overlapping chunks of at most chunkSize characters.
// Lengths and offsets are in characters, not bytes.
func (c *Chunker) Split(text string) []models.Chunk {
	runes := []rune(text)

	if len(runes) <= c.chunkSize {
		t := strings.TrimSpace(text)
		if t == "" {
			return nil
		}
		n := len([]rune(t))
		return []models.Chunk{{Index: 0, Text: t, StartChar: 0, EndChar: n, Length: n}}
	}

	var chunks []models.Chunk
	start := 0
	total := 0
	for start < len(runes) {
		end := start + c.chunkSize

		if end < len(runes) {
			// Prefer the right-most sentence ending within the trailing
			// window of the cut, so chunks break on sentences when possible.
			searchStart := end - boundaryWindow
			if searchStart < start {
				searchStart = start
			}
			if i := lastBoundary(runes[searchStart:end]); i >= 0 {
				end = searchStart + i + 1
			}
		}

		sliceEnd := end
		if sliceEnd > len(runes) {
			sliceEnd = len(runes)
		}
		t := strings.TrimSpace(string(runes[start:sliceEnd]))
		if t != "" {
			n := len([]rune(t))
			chunks = append(chunks, models.Chunk{
				Index:     len(chunks),
				Text:      t,
				StartChar: total,
				EndChar:   total + n,
				Length:    n,
			})
			total += n
		}

		next := end - c.overlap
		if next <= start {
			// Guarantees progress when a boundary adjustment pulled the cut
			// back inside the overlap.
			next = end
		}
		start = next
	}
	return chunks
}

// lastBoundary returns the index of the right-most sentence-ending rune
// in s, or -1.
func lastBoundary(s []rune) int {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?', '\n':
			return i
		}
	}
	return -1
}

// Stats summarizes a chunk sequence for diagnostics.
type Stats struct {
	TotalChunks  int     `json:"total_chunks"`
	TotalChars   int     `json:"total_characters"`
	AvgChunkSize float64 `json:"average_chunk_size"`
	MinChunkSize int     `json:"min_chunk_size"`
	MaxChunkSize int     `json:"max_chunk_size"`
}

func Summarize(chunks []models.Chunk) Stats {
	if len(chunks) == 0 {
		return Stats{}
	}
	s := Stats{TotalChunks: len(chunks), MinChunkSize: chunks[0].Length}
	for _, ch := range chunks {
		s.TotalChars += ch.Length
		if ch.Length < s.MinChunkSize {
			s.MinChunkSize = ch.Length
		}
		if ch.Length > s.MaxChunkSize {
			s.MaxChunkSize = ch.Length
		}
	}
	s.AvgChunkSize = float64(s.TotalChars) / float64(len(chunks))
	return s
}
