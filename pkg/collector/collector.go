// Package collector owns every aircraft trace and serves them over a message
// protocol.
//
// A Collector runs as a single goroutine. Its trace collection is private to
// that goroutine; other goroutines interact with it only by sending Message
// values on its inbox. Messages on the inbox are handled one at a time in send
// order, so no two updates for the same aircraft ever interleave. There is no
// ordering between different senders, which is why traces re-sort their
// points defensively.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/unklstewy/ads-trace/pkg/trace"
)

const (
	// DefaultInboxSize is the inbox buffer used when Options.InboxSize is zero
	DefaultInboxSize = 1024

	// DefaultStaleAfter is the idle time in seconds after which Clean evicts a trace
	DefaultStaleAfter = 300.0
)

// Options configures a Collector.
type Options struct {
	// InboxSize is the inbox channel buffer (default: 1024)
	InboxSize int

	// StaleAfter is the idle window in seconds used by Clean (default: 300)
	StaleAfter float64

	// Logger receives diagnostic output (default: slog.Default())
	Logger *slog.Logger

	// Metrics is optional; nil disables instrumentation
	Metrics *Metrics
}

// Collector maintains one trace per aircraft.
type Collector struct {
	inbox      chan Message
	closeOnce  sync.Once
	staleAfter float64
	logger     *slog.Logger
	metrics    *Metrics

	// Owned by the Run goroutine.
	traces  map[string]*trace.Trace
	points  int
	handled uint64
}

// New creates a collector. Call Run to start serving messages.
func New(opts Options) *Collector {
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultInboxSize
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Collector{
		inbox:      make(chan Message, opts.InboxSize),
		staleAfter: opts.StaleAfter,
		logger:     opts.Logger.With("component", "collector"),
		metrics:    opts.Metrics,
		traces:     make(map[string]*trace.Trace),
	}
}

// Inbox returns the channel the collector reads messages from.
// Use Close rather than closing it directly.
func (c *Collector) Inbox() chan<- Message {
	return c.inbox
}

// Close closes the inbox. Run handles the messages already queued and then
// returns. No message may be sent after Close; Close itself may be called
// more than once.
func (c *Collector) Close() {
	c.closeOnce.Do(func() { close(c.inbox) })
}

// Run handles messages until ctx is cancelled or the inbox is closed, then
// drops every trace. Run must be called at most once.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("trace collector started", "inbox_size", cap(c.inbox), "stale_after_s", c.staleAfter)
	defer c.teardown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-c.inbox:
			if !ok {
				return nil
			}
			c.handle(msg)
		}
	}
}

func (c *Collector) teardown() {
	c.logger.Info("trace collector stopped", "traces", len(c.traces), "handled", c.handled)
	clear(c.traces)
	c.points = 0
	c.metrics.observeSize(0, 0)
}

func (c *Collector) handle(msg Message) {
	c.handled++

	switch m := msg.(type) {
	case Update:
		c.update(m)
	case Destroy:
		c.destroy(m)
	case Clean:
		c.clean(m)
	case Get:
		c.get(m)
	case Sync:
		close(m.Done)
	case Stats:
		c.stats(m)
	default:
		c.logger.Warn("dropping unknown message", "type", fmt.Sprintf("%T", msg))
	}
}

func (c *Collector) update(m Update) {
	t, ok := c.traces[m.ID]
	if !ok {
		t = trace.New()
		c.traces[m.ID] = t
	}

	before := t.Len()
	t.AddPosition(m.Position, m.Timestamp)
	c.points += t.Len() - before

	c.metrics.observeUpdate(!ok)
	c.metrics.observeSize(len(c.traces), c.points)
}

func (c *Collector) destroy(m Destroy) {
	t, ok := c.traces[m.ID]
	if !ok {
		return
	}

	c.points -= t.Len()
	t.Reset()
	delete(c.traces, m.ID)

	c.metrics.observeEviction("destroy", 1)
	c.metrics.observeSize(len(c.traces), c.points)
}

func (c *Collector) clean(m Clean) {
	evicted := 0
	for id, t := range c.traces {
		if m.Now-t.LastTimestamp() > c.staleAfter {
			c.points -= t.Len()
			delete(c.traces, id)
			evicted++
		}
	}

	if evicted > 0 {
		c.logger.Debug("evicted stale traces", "count", evicted, "remaining", len(c.traces))
	}
	c.metrics.observeEviction("clean", evicted)
	c.metrics.observeSize(len(c.traces), c.points)
}

func (c *Collector) get(m Get) {
	t, ok := c.traces[m.ID]
	if !ok {
		return
	}

	// The loop must never block on a slow requester.
	select {
	case m.Reply <- TraceReply{ID: m.ID, Points: t.Points()}:
	default:
		c.logger.Warn("trace reply dropped, requester channel full", "hex", m.ID)
	}
}

func (c *Collector) stats(m Stats) {
	select {
	case m.Reply <- Snapshot{Traces: len(c.traces), Points: c.points, Handled: c.handled}:
	default:
		c.logger.Warn("stats reply dropped, requester channel full")
	}
}

// Send delivers msg to the collector, waiting for inbox space until ctx is done.
func (c *Collector) Send(ctx context.Context, msg Message) error {
	select {
	case c.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Update sends an Update for id.
func (c *Collector) Update(ctx context.Context, id string, pos trace.Position, timestamp float64) error {
	return c.Send(ctx, Update{ID: id, Position: pos, Timestamp: timestamp})
}

// Destroy sends a Destroy for id.
func (c *Collector) Destroy(ctx context.Context, id string) error {
	return c.Send(ctx, Destroy{ID: id})
}

// Clean sends a Clean relative to now.
func (c *Collector) Clean(ctx context.Context, now float64) error {
	return c.Send(ctx, Clean{Now: now})
}

// Sync waits until every message sent before it has been handled.
func (c *Collector) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := c.Send(ctx, Sync{Done: done}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns a copy of the trace for id. The bool is false if no trace exists.
func (c *Collector) Get(ctx context.Context, id string) ([]trace.Point, bool, error) {
	reply := make(chan TraceReply, 1)
	if err := c.Send(ctx, Get{ID: id, Reply: reply}); err != nil {
		return nil, false, err
	}

	// Sync is handled after Get, so once it returns a reply is either
	// buffered or was never sent.
	if err := c.Sync(ctx); err != nil {
		return nil, false, err
	}

	select {
	case r := <-reply:
		return r.Points, true, nil
	default:
		return nil, false, nil
	}
}

// Stats returns a snapshot of the collection.
func (c *Collector) Stats(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := c.Send(ctx, Stats{Reply: reply}); err != nil {
		return Snapshot{}, err
	}

	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}
