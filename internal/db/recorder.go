package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/unklstewy/ads-trace/pkg/collector"
)

// Sink matches collector.Collector.Send.
type Sink interface {
	Send(ctx context.Context, msg collector.Message) error
}

// Recorder stores every live Update in aircraft_positions before passing it
// on, so a later start can replay it through ChunkSource.
// A failed insert is logged and the message is still forwarded.
type Recorder struct {
	db     *DB
	next   Sink
	logger *slog.Logger
}

// NewRecorder creates a recorder in front of next. logger may be nil.
func NewRecorder(db *DB, next Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, next: next, logger: logger.With("component", "recorder")}
}

// Send records Update messages and forwards all messages to the next sink.
func (r *Recorder) Send(ctx context.Context, msg collector.Message) error {
	if u, ok := msg.(collector.Update); ok {
		if err := r.insert(ctx, u); err != nil {
			r.logger.Warn("failed to record position", "hex", u.ID, "error", err)
		}
	}
	return r.next.Send(ctx, msg)
}

func (r *Recorder) insert(ctx context.Context, u collector.Update) error {
	alt := sql.NullFloat64{Float64: u.Position.Altitude.Feet, Valid: !u.Position.Altitude.Ground}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO aircraft_positions (icao, timestamp, latitude, longitude, altitude_ft, on_ground)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, fromUnixSeconds(u.Timestamp),
		u.Position.Latitude, u.Position.Longitude, alt, u.Position.Altitude.Ground,
	)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}
	return nil
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9)).UTC()
}
