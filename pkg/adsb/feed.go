package adsb

import (
	"context"
	"log/slog"
	"time"

	"github.com/unklstewy/ads-trace/pkg/collector"
)

// Sink receives live position updates. *collector.Collector implements it.
type Sink interface {
	Send(ctx context.Context, msg collector.Message) error
}

// FeedConfig configures a live Feed.
type FeedConfig struct {
	// Latitude/Longitude is the center of the polled area in decimal degrees
	Latitude  float64
	Longitude float64

	// RadiusNM is the polled radius in nautical miles
	RadiusNM float64

	// Interval is the time between polls
	Interval time.Duration

	// Retry controls backoff for failed polls
	Retry RetryConfig
}

// Feed polls a DataSource and forwards every positioned aircraft to the collector.
type Feed struct {
	source DataSource
	sink   Sink
	cfg    FeedConfig
	logger *slog.Logger

	polls   int
	updates int
}

// NewFeed creates a feed. logger may be nil.
func NewFeed(source DataSource, sink Sink, cfg FeedConfig, logger *slog.Logger) *Feed {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		source: source,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With("component", "feed"),
	}
}

// Run polls immediately and then every Interval until ctx is cancelled.
// A failed poll is logged and retried on the next tick.
func (f *Feed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	f.logger.Info("live feed started",
		"lat", f.cfg.Latitude, "lon", f.cfg.Longitude, "radius_nm", f.cfg.RadiusNM, "interval", f.cfg.Interval)

	for {
		if _, err := f.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("poll failed, will retry next cycle", "error", err)
		}

		select {
		case <-ctx.Done():
			f.logger.Info("live feed stopped", "polls", f.polls, "updates", f.updates)
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches one snapshot and sends an Update per positioned aircraft.
// It returns the number of updates sent.
func (f *Feed) Poll(ctx context.Context) (int, error) {
	snap, err := RetryWithBackoffResult(ctx, f.cfg.Retry, func() (*Snapshot, error) {
		return f.source.GetAircraft(ctx, f.cfg.Latitude, f.cfg.Longitude, f.cfg.RadiusNM)
	})
	if err != nil {
		return 0, err
	}
	f.polls++

	sent := 0
	for _, ac := range snap.Aircraft {
		if !ac.HasPosition {
			continue
		}
		msg := collector.Update{ID: ac.ICAO, Position: ac.Position(), Timestamp: ac.Timestamp}
		if err := f.sink.Send(ctx, msg); err != nil {
			return sent, err
		}
		sent++
	}
	f.updates += sent

	f.logger.Debug("poll complete", "aircraft", len(snap.Aircraft), "updates", sent, "now", snap.Now)
	return sent, nil
}
