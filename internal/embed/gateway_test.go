package embed

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/SantiagoCoronado/personal-rag-system/internal/ai"
)

// MockBackend implements Backend for testing.
type MockBackend struct {
	EmbedFunc      func(ctx context.Context, text string) ([]float32, error)
	EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)
	EmbedCalls     int
	BatchCalls     int
}

func (m *MockBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	m.EmbedCalls++
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{0.1, 0.2}, nil
}

func (m *MockBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.BatchCalls++
	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func newTestGateway(b Backend, opts Options) *Gateway {
	if opts.BaseDelay == 0 {
		opts.BaseDelay = time.Millisecond
	}
	return NewGateway(b, opts, zerolog.Nop())
}

func TestEmbedOne_RejectsEmptyInput(t *testing.T) {
	backend := &MockBackend{}
	g := newTestGateway(backend, Options{})

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := g.EmbedOne(context.Background(), text); !errors.Is(err, ErrEmptyText) {
			t.Errorf("EmbedOne(%q): expected ErrEmptyText, got %v", text, err)
		}
	}
	if backend.EmbedCalls != 0 {
		t.Errorf("backend must not be called for invalid input, got %d calls", backend.EmbedCalls)
	}
}

func TestEmbedOne_Success(t *testing.T) {
	want := []float32{1, 2, 3}
	backend := &MockBackend{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			if text != "some text" {
				t.Errorf("unexpected text %q", text)
			}
			return want, nil
		},
	}
	g := newTestGateway(backend, Options{})

	got, err := g.EmbedOne(context.Background(), "some text")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEmbedOne_RetriesOnRateLimit(t *testing.T) {
	backend := &MockBackend{}
	backend.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
		if backend.EmbedCalls < 3 {
			return nil, fmt.Errorf("%w: try later", ai.ErrRateLimited)
		}
		return []float32{0.5}, nil
	}
	g := newTestGateway(backend, Options{MaxRetries: 3})

	got, err := g.EmbedOne(context.Background(), "text")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if !reflect.DeepEqual(got, []float32{0.5}) {
		t.Errorf("got %v", got)
	}
	if backend.EmbedCalls != 3 {
		t.Errorf("expected 3 attempts, got %d", backend.EmbedCalls)
	}
}

func TestEmbedOne_RateLimitExhaustion(t *testing.T) {
	backend := &MockBackend{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, ai.ErrRateLimited
		},
	}
	g := newTestGateway(backend, Options{MaxRetries: 3})

	_, err := g.EmbedOne(context.Background(), "text")
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("expected ErrRateLimitExceeded, got %v", err)
	}
	if backend.EmbedCalls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", backend.EmbedCalls)
	}
}

func TestEmbedOne_OtherErrorsNotRetried(t *testing.T) {
	backendErr := errors.New("model not found")
	backend := &MockBackend{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, backendErr
		},
	}
	g := newTestGateway(backend, Options{MaxRetries: 3})

	_, err := g.EmbedOne(context.Background(), "text")
	if !errors.Is(err, backendErr) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
	if errors.Is(err, ErrRateLimitExceeded) {
		t.Error("plain backend errors must not be reported as rate limit exhaustion")
	}
	if backend.EmbedCalls != 1 {
		t.Errorf("expected a single attempt, got %d", backend.EmbedCalls)
	}
}

func TestEmbedOne_ContextCancelDuringBackoff(t *testing.T) {
	backend := &MockBackend{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, ai.ErrRateLimited
		},
	}
	g := NewGateway(backend, Options{MaxRetries: 3, BaseDelay: time.Minute}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.EmbedOne(ctx, "text")
		done <- err
	}()

	// Let the first attempt fail, then cancel during the backoff wait.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backoff ignored context cancellation")
	}
}

func TestEmbedMany_Empty(t *testing.T) {
	g := newTestGateway(&MockBackend{}, Options{})
	got, err := g.EmbedMany(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestEmbedMany_BatchPartitioning(t *testing.T) {
	var batchSizes []int
	backend := &MockBackend{
		EmbedBatchFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			batchSizes = append(batchSizes, len(texts))
			out := make([][]float32, len(texts))
			for i, text := range texts {
				out[i] = []float32{float32(len(text))}
			}
			return out, nil
		},
	}
	g := newTestGateway(backend, Options{BatchSize: 2})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	got, err := g.EmbedMany(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(batchSizes, []int{2, 2, 1}) {
		t.Errorf("batch sizes = %v, want [2 2 1]", batchSizes)
	}
	// Order preserved: each vector encodes its input's length.
	for i, text := range texts {
		if got[i][0] != float32(len(text)) {
			t.Errorf("vector %d out of order: got %v for %q", i, got[i], text)
		}
	}
}

func TestEmbedMany_SubBatchFailureAborts(t *testing.T) {
	backend := &MockBackend{
		EmbedBatchFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			if texts[0] == "c" {
				return nil, errors.New("backend exploded")
			}
			out := make([][]float32, len(texts))
			for i := range texts {
				out[i] = []float32{1}
			}
			return out, nil
		},
	}
	g := newTestGateway(backend, Options{BatchSize: 2})

	got, err := g.EmbedMany(context.Background(), []string{"a", "b", "c", "d"})
	if err == nil {
		t.Fatal("expected error from failing sub-batch")
	}
	if got != nil {
		t.Errorf("no partial results on failure, got %v", got)
	}
}

func TestEmbedMany_CountMismatch(t *testing.T) {
	backend := &MockBackend{
		EmbedBatchFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			return [][]float32{{1}}, nil // one vector for two texts
		},
	}
	g := newTestGateway(backend, Options{BatchSize: 10})

	if _, err := g.EmbedMany(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error on embedding count mismatch")
	}
}
