package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"

	"github.com/SantiagoCoronado/personal-rag-system/internal/chunker"
	"github.com/SantiagoCoronado/personal-rag-system/pkg/models"
)

type MockEmbedder struct {
	EmbedManyFunc func(ctx context.Context, texts []string) ([][]float32, error)
	Calls         int
}

func (m *MockEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	m.Calls++
	if m.EmbedManyFunc != nil {
		return m.EmbedManyFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type MockStore struct {
	CreateDocumentFunc func(ctx context.Context, userID, filename string) (models.Document, error)
	ReplaceFunc        func(ctx context.Context, documentID string, chunks []models.Chunk, vectors [][]float32) error

	Created  []string
	Replaced map[string]int
}

func (m *MockStore) CreateDocument(ctx context.Context, userID, filename string) (models.Document, error) {
	m.Created = append(m.Created, filename)
	if m.CreateDocumentFunc != nil {
		return m.CreateDocumentFunc(ctx, userID, filename)
	}
	return models.Document{ID: "doc-" + filename, UserID: userID, Filename: filename}, nil
}

func (m *MockStore) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.Chunk, vectors [][]float32) error {
	if m.Replaced == nil {
		m.Replaced = map[string]int{}
	}
	m.Replaced[documentID] = len(chunks)
	if m.ReplaceFunc != nil {
		return m.ReplaceFunc(ctx, documentID, chunks, vectors)
	}
	return nil
}

// MockFileSystemWalker feeds a fixed file list through the callback.
type MockFileSystemWalker struct {
	Paths []string
}

func (m *MockFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	for _, p := range m.Paths {
		if err := options.Callback(p, nil); err != nil {
			return err
		}
	}
	return nil
}

type MockFileReader struct {
	Files map[string]string
}

func (m *MockFileReader) ReadFile(filename string) ([]byte, error) {
	content, ok := m.Files[filename]
	if !ok {
		return nil, errors.New("file not found")
	}
	return []byte(content), nil
}

func newTestService(t *testing.T, store Store, embedder Embedder) *Service {
	t.Helper()
	ch, err := chunker.New(100, 20)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	return NewService(store, embedder, ch, zerolog.Nop())
}

func TestIngestText_StoresChunksWithVectors(t *testing.T) {
	store := &MockStore{}
	var gotTexts []string
	embedder := &MockEmbedder{
		EmbedManyFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			gotTexts = texts
			out := make([][]float32, len(texts))
			for i := range texts {
				out[i] = []float32{float32(i), 1}
			}
			return out, nil
		},
	}
	svc := newTestService(t, store, embedder)

	stats, err := svc.IngestText(context.Background(), "doc-1", "Sentence one. Sentence two. Sentence three.")
	if err != nil {
		t.Fatalf("IngestText: %v", err)
	}
	if stats.TotalChunks == 0 {
		t.Fatal("expected at least one chunk")
	}
	if len(gotTexts) != stats.TotalChunks {
		t.Errorf("embedded %d texts, stats report %d chunks", len(gotTexts), stats.TotalChunks)
	}
	if store.Replaced["doc-1"] != stats.TotalChunks {
		t.Errorf("stored %d chunks, want %d", store.Replaced["doc-1"], stats.TotalChunks)
	}
}

func TestIngestText_CleansBeforeChunking(t *testing.T) {
	store := &MockStore{}
	var gotTexts []string
	embedder := &MockEmbedder{
		EmbedManyFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			gotTexts = texts
			return [][]float32{{1}}, nil
		},
	}
	svc := newTestService(t, store, embedder)

	_, err := svc.IngestText(context.Background(), "doc-1", "--- Page 1 ---   hello\n\n\nworld")
	if err != nil {
		t.Fatalf("IngestText: %v", err)
	}
	if len(gotTexts) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(gotTexts))
	}
	if gotTexts[0] != "hello world" {
		t.Errorf("chunk text = %q, want %q", gotTexts[0], "hello world")
	}
}

func TestIngestText_EmptyDocument(t *testing.T) {
	store := &MockStore{}
	embedder := &MockEmbedder{}
	svc := newTestService(t, store, embedder)

	_, err := svc.IngestText(context.Background(), "doc-1", "   \n\t  ")
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("got %v, want ErrEmptyDocument", err)
	}
	if embedder.Calls != 0 {
		t.Errorf("embedder called %d times for empty document", embedder.Calls)
	}
	if len(store.Replaced) != 0 {
		t.Errorf("store touched for empty document: %v", store.Replaced)
	}
}

func TestIngestText_EmbedFailureSkipsStore(t *testing.T) {
	store := &MockStore{}
	embedder := &MockEmbedder{
		EmbedManyFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, errors.New("backend down")
		},
	}
	svc := newTestService(t, store, embedder)

	_, err := svc.IngestText(context.Background(), "doc-1", "some document text")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(store.Replaced) != 0 {
		t.Errorf("store must not be written after embed failure: %v", store.Replaced)
	}
}

func TestIngestDirectory(t *testing.T) {
	store := &MockStore{}
	embedder := &MockEmbedder{}
	svc := newTestService(t, store, embedder)

	svc.Walker = &MockFileSystemWalker{Paths: []string{
		"/docs/notes.txt",
		"/docs/readme.md",
		"/docs/image.png",   // wrong extension
		"/docs/missing.txt", // read error, skipped
		"/docs/blank.txt",   // empty after cleaning, skipped
	}}
	svc.FileReader = &MockFileReader{Files: map[string]string{
		"/docs/notes.txt": "Some notes about things.",
		"/docs/readme.md": "A readme with content.",
		"/docs/image.png": "binary",
		"/docs/blank.txt": "   ",
	}}

	n, err := svc.IngestDirectory(context.Background(), "u-1", "/docs")
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if n != 2 {
		t.Errorf("ingested %d documents, want 2", n)
	}

	want := map[string]bool{"notes.txt": true, "readme.md": true, "blank.txt": true}
	for _, name := range store.Created {
		if !want[name] {
			t.Errorf("unexpected document created: %s", name)
		}
	}
	// The empty file creates a document but stores no chunks.
	if store.Replaced["doc-blank.txt"] != 0 {
		t.Errorf("blank document should have no chunks, got %d", store.Replaced["doc-blank.txt"])
	}
}
