package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hi-space/next-memo/internal/server/models"
)

type fakeEnricher struct {
	mu   sync.Mutex
	seen []string
	err  error
	done chan struct{}
}

func (e *fakeEnricher) Enrich(_ context.Context, memo *models.Memo) error {
	e.mu.Lock()
	e.seen = append(e.seen, memo.ID)
	e.mu.Unlock()
	if e.done != nil {
		e.done <- struct{}{}
	}
	return e.err
}

func TestEnrichmentWorker_ProcessesSubmissions(t *testing.T) {
	enricher := &fakeEnricher{done: make(chan struct{}, 2)}
	w := NewEnrichmentWorker(enricher, 4, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Submit(&models.Memo{ID: "m1"})
	w.Submit(&models.Memo{ID: "m2"})

	for i := 0; i < 2; i++ {
		select {
		case <-enricher.done:
		case <-time.After(time.Second):
			t.Fatal("enrichment did not run")
		}
	}

	enricher.mu.Lock()
	defer enricher.mu.Unlock()
	assert.ElementsMatch(t, []string{"m1", "m2"}, enricher.seen)
}

func TestEnrichmentWorker_SubmitNeverBlocks(t *testing.T) {
	// No Run loop draining the queue: once the queue is full, further
	// submissions must be dropped, not block the caller.
	w := NewEnrichmentWorker(&fakeEnricher{}, 1, testLogger())

	completed := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			w.Submit(&models.Memo{ID: "m"})
		}
		close(completed)
	}()

	select {
	case <-completed:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}
}

func TestEnrichmentWorker_ErrorDoesNotStopLoop(t *testing.T) {
	enricher := &fakeEnricher{err: errors.New("model unavailable"), done: make(chan struct{}, 2)}
	w := NewEnrichmentWorker(enricher, 4, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Submit(&models.Memo{ID: "m1"})
	w.Submit(&models.Memo{ID: "m2"})

	for i := 0; i < 2; i++ {
		select {
		case <-enricher.done:
		case <-time.After(time.Second):
			t.Fatal("worker stopped after an enrichment error")
		}
	}
}

func TestEnrichmentWorker_DrainsQueueOnCancel(t *testing.T) {
	// Memos submitted before shutdown were accepted; cancellation must
	// still run them before Run returns.
	enricher := &fakeEnricher{}
	w := NewEnrichmentWorker(enricher, 4, testLogger())

	w.Submit(&models.Memo{ID: "m1"})
	w.Submit(&models.Memo{ID: "m2"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return on context cancellation")
	}

	enricher.mu.Lock()
	defer enricher.mu.Unlock()
	assert.ElementsMatch(t, []string{"m1", "m2"}, enricher.seen)
}

func TestEnrichmentWorker_RunStopsOnCancel(t *testing.T) {
	w := NewEnrichmentWorker(&fakeEnricher{}, 1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return on context cancellation")
	}
}
