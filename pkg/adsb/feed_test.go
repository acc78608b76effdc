package adsb

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/unklstewy/ads-trace/pkg/collector"
	"github.com/unklstewy/ads-trace/pkg/trace"
)

// fakeSource returns queued snapshots, then errors.
type fakeSource struct {
	mu     sync.Mutex
	snaps  []*Snapshot
	calls  int
	failUp int
}

func (s *fakeSource) GetAircraft(ctx context.Context, lat, lon, radius float64) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failUp {
		return nil, errors.New("upstream down")
	}
	if len(s.snaps) == 0 {
		return &Snapshot{}, nil
	}
	snap := s.snaps[0]
	s.snaps = s.snaps[1:]
	return snap, nil
}

func (s *fakeSource) Close() error { return nil }

type updateSink struct {
	mu      sync.Mutex
	updates []collector.Update
}

func (s *updateSink) Send(ctx context.Context, msg collector.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, msg.(collector.Update))
	return nil
}

func (s *updateSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestFeedPoll tests that only positioned aircraft are forwarded.
func TestFeedPoll(t *testing.T) {
	src := &fakeSource{snaps: []*Snapshot{{
		Now: 1000,
		Aircraft: []Aircraft{
			{ICAO: "a12345", Latitude: 35, Longitude: -80, Altitude: trace.Feet(30000), HasPosition: true, Timestamp: 998},
			{ICAO: "b67890"},
			{ICAO: "c00001", Latitude: 36, Longitude: -81, Altitude: trace.OnGround(), HasPosition: true, Timestamp: 1000},
		},
	}}}
	sink := &updateSink{}

	feed := NewFeed(src, sink, FeedConfig{RadiusNM: 50}, quietLogger())
	sent, err := feed.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if sent != 2 {
		t.Fatalf("Expected 2 updates, got %d", sent)
	}

	first := sink.updates[0]
	if first.ID != "a12345" || first.Timestamp != 998 || first.Position.Altitude.Feet != 30000 {
		t.Errorf("Unexpected first update: %+v", first)
	}
	if !sink.updates[1].Position.Altitude.Ground {
		t.Error("Expected ground altitude on second update")
	}
}

// TestFeedPollRetries tests that transient failures are retried within a poll.
func TestFeedPollRetries(t *testing.T) {
	src := &fakeSource{failUp: 2, snaps: []*Snapshot{{
		Aircraft: []Aircraft{{ICAO: "a12345", HasPosition: true, Timestamp: 1}},
	}}}
	sink := &updateSink{}

	cfg := FeedConfig{Retry: RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}}
	sent, err := NewFeed(src, sink, cfg, quietLogger()).Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if sent != 1 || src.calls != 3 {
		t.Errorf("Expected 1 update after 3 calls, got %d after %d", sent, src.calls)
	}
}

// TestFeedRun tests the poll loop and its shutdown.
func TestFeedRun(t *testing.T) {
	src := &fakeSource{failUp: 1}
	for i := 0; i < 10; i++ {
		src.snaps = append(src.snaps, &Snapshot{
			Aircraft: []Aircraft{{ICAO: "a12345", HasPosition: true, Latitude: float64(i), Timestamp: float64(i)}},
		})
	}
	sink := &updateSink{}

	ctx, cancel := context.WithCancel(context.Background())
	feed := NewFeed(src, sink, FeedConfig{Interval: 5 * time.Millisecond}, quietLogger())

	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if sink.count() < 3 {
		t.Errorf("Expected at least 3 updates despite the first poll failing, got %d", sink.count())
	}
}
