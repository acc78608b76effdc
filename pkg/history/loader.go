// Package history loads historical snapshot chunks and replays them into the
// trace collector using the same Update messages the live feed sends.
package history

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/unklstewy/ads-trace/pkg/collector"
)

// Sink receives replayed updates. *collector.Collector implements it.
type Sink interface {
	Send(ctx context.Context, msg collector.Message) error
}

// Result describes the outcome of a Load.
type Result struct {
	// Requested is the number of chunks asked for
	Requested int

	// Fetched is the number of chunks replayed
	Fetched int

	// Failed is true when a fetch error cut the load short
	Failed bool

	// Records is the number of Update messages sent
	Records int

	// Skipped is the number of records without a full position
	Skipped int
}

// Loader fetches N chunks concurrently and replays them in chronological order.
//
// The first failed fetch ends the load: whatever has arrived by then is
// replayed, and chunks that arrive later are ignored. Fetches are never retried.
type Loader struct {
	source  Source
	sink    Sink
	logger  *slog.Logger
	metrics *Metrics
}

// NewLoader creates a loader. logger and metrics may be nil.
func NewLoader(source Source, sink Sink, logger *slog.Logger, metrics *Metrics) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		source:  source,
		sink:    sink,
		logger:  logger.With("component", "history"),
		metrics: metrics,
	}
}

type fetchResult struct {
	index int
	chunk *Chunk
	err   error
}

// loadState accumulates fetch results for one Load call.
type loadState struct {
	requested int
	chunks    []*Chunk
	succeeded int
	failed    bool
	finished  bool
}

// complete records one fetch result. Once finished, results are dropped.
func (s *loadState) complete(r fetchResult) error {
	if s.finished {
		return nil
	}

	if r.err == nil && r.chunk == nil {
		r.err = errors.New("empty chunk")
	}
	if r.err != nil {
		s.failed = true
		s.finished = true
		return r.err
	}

	s.chunks = append(s.chunks, r.chunk)
	s.succeeded++
	if s.succeeded == s.requested {
		s.finished = true
	}
	return nil
}

// Load fetches chunks 0..n-1 and replays them into the sink.
// It returns an error only if ctx ends before the replay completes.
func (l *Loader) Load(ctx context.Context, n int) (Result, error) {
	result := Result{Requested: n}
	if n <= 0 {
		return result, nil
	}

	start := time.Now()
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so fetches that finish after the load stops listening never block.
	results := make(chan fetchResult, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			chunk, err := l.source.Fetch(fetchCtx, i)
			results <- fetchResult{index: i, chunk: chunk, err: err}
		}(i)
	}

	state := &loadState{requested: n}
	for !state.finished {
		select {
		case r := <-results:
			if err := state.complete(r); err != nil {
				l.logger.Warn("chunk fetch failed, replaying partial history",
					"chunk", r.index, "fetched", state.succeeded, "requested", n, "error", err)
				l.metrics.observeChunk("failed")
			} else {
				l.metrics.observeChunk("fetched")
			}
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}
	// Release fetches that are still in flight; their results are dropped.
	cancel()

	result.Fetched = len(state.chunks)
	result.Failed = state.failed

	records, skipped, err := l.replay(ctx, state.chunks)
	result.Records = records
	result.Skipped = skipped
	if err != nil {
		return result, err
	}

	l.logger.Info("history replayed",
		"chunks", result.Fetched, "requested", n, "records", records,
		"skipped", skipped, "partial", result.Failed, "elapsed", time.Since(start))
	return result, nil
}

// replay sends an Update for every complete record, oldest chunk first.
func (l *Loader) replay(ctx context.Context, chunks []*Chunk) (records, skipped int, err error) {
	slices.SortStableFunc(chunks, func(a, b *Chunk) int {
		return cmp.Compare(a.Now, b.Now)
	})

	for _, chunk := range chunks {
		for _, rec := range chunk.Aircraft {
			pos, ok := rec.Position()
			if !ok {
				skipped++
				l.metrics.observeRecord("skipped")
				continue
			}

			msg := collector.Update{ID: rec.Hex, Position: pos, Timestamp: chunk.Now}
			if err := l.sink.Send(ctx, msg); err != nil {
				return records, skipped, err
			}
			records++
			l.metrics.observeRecord("replayed")
		}
	}
	return records, skipped, nil
}
