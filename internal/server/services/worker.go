package services

import (
	"context"

	"github.com/hi-space/next-memo/internal/logging"
	"github.com/hi-space/next-memo/internal/server/models"
)

// Enricher is what the worker runs for each queued memo.
type Enricher interface {
	Enrich(ctx context.Context, memo *models.Memo) error
}

// EnrichmentWorker drains a bounded queue of memos and runs the
// enrichment for each. Submit never blocks a memo write: when the queue
// is full the memo is dropped with a warning.
type EnrichmentWorker struct {
	enricher Enricher
	queue    chan *models.Memo
	logger   logging.Logger
}

func NewEnrichmentWorker(enricher Enricher, queueSize int, logger logging.Logger) *EnrichmentWorker {
	if queueSize < 1 {
		queueSize = 1
	}
	return &EnrichmentWorker{
		enricher: enricher,
		queue:    make(chan *models.Memo, queueSize),
		logger:   logger.With("module", "enrichment_worker"),
	}
}

// Submit enqueues a memo for enrichment, dropping it when the queue is
// full.
func (w *EnrichmentWorker) Submit(memo *models.Memo) {
	select {
	case w.queue <- memo:
	default:
		w.logger.Warn(context.Background(), "enrichment queue full, dropping memo", "memo_id", memo.ID)
	}
}

// Run processes queued memos until ctx is cancelled, then drains
// whatever is still queued before returning. Enrichment errors are
// logged and never propagate further.
func (w *EnrichmentWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case memo := <-w.queue:
			w.process(ctx, memo)
		}
	}
}

// drain runs already-accepted memos to completion. The parent ctx is
// cancelled at this point, so each memo gets a fresh context.
func (w *EnrichmentWorker) drain() {
	for {
		select {
		case memo := <-w.queue:
			w.process(context.Background(), memo)
		default:
			return
		}
	}
}

func (w *EnrichmentWorker) process(ctx context.Context, memo *models.Memo) {
	if err := w.enricher.Enrich(ctx, memo); err != nil {
		w.logger.Error(ctx, "enrichment failed", "memo_id", memo.ID, "error", err)
	}
}
