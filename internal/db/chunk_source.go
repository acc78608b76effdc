package db

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/unklstewy/ads-trace/pkg/history"
	"github.com/unklstewy/ads-trace/pkg/trace"
)

// ChunkSource serves aircraft_positions as history chunks.
// Chunk i covers [since + i*bucket, since + (i+1)*bucket) and holds the
// latest row of every aircraft seen in that window.
type ChunkSource struct {
	db     *DB
	since  time.Time
	bucket time.Duration
}

// NewChunkSource creates a chunk source over rows with timestamp >= since.
func NewChunkSource(db *DB, since time.Time, bucket time.Duration) *ChunkSource {
	return &ChunkSource{db: db, since: since.UTC(), bucket: bucket}
}

// positionRow is one aircraft_positions row.
type positionRow struct {
	ICAO      string
	Timestamp time.Time
	Latitude  float64
	Longitude float64
	Altitude  sql.NullFloat64
	OnGround  bool
}

// ChunkCount returns how many buckets are needed to cover every stored row.
func (s *ChunkSource) ChunkCount(ctx context.Context) (int, error) {
	var latest sql.NullTime
	err := WithRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT MAX(timestamp) FROM aircraft_positions WHERE timestamp >= $1`,
			s.since,
		).Scan(&latest)
	}, 2)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	if !latest.Valid {
		return 0, nil
	}
	return bucketCount(s.since, latest.Time, s.bucket), nil
}

// Fetch builds chunk i from the rows in its bucket.
func (s *ChunkSource) Fetch(ctx context.Context, i int) (*history.Chunk, error) {
	start, end := bucketBounds(s.since, s.bucket, i)

	var rows []positionRow
	err := WithRetry(ctx, func() error {
		var err error
		rows, err = s.queryBucket(ctx, start, end)
		return err
	}, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunk %d: %w", i, err)
	}

	return buildChunk(rows, start), nil
}

func (s *ChunkSource) queryBucket(ctx context.Context, start, end time.Time) ([]positionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT ON (icao) icao, timestamp, latitude, longitude, altitude_ft, on_ground
		 FROM aircraft_positions
		 WHERE timestamp >= $1 AND timestamp < $2
		 ORDER BY icao, timestamp DESC`,
		start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []positionRow
	for rows.Next() {
		var r positionRow
		if err := rows.Scan(&r.ICAO, &r.Timestamp, &r.Latitude, &r.Longitude, &r.Altitude, &r.OnGround); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// bucketBounds returns the half-open time window of bucket i.
func bucketBounds(since time.Time, bucket time.Duration, i int) (time.Time, time.Time) {
	start := since.Add(time.Duration(i) * bucket)
	return start, start.Add(bucket)
}

// bucketCount returns the number of buckets from since up to and including latest.
func bucketCount(since, latest time.Time, bucket time.Duration) int {
	if bucket <= 0 || latest.Before(since) {
		return 0
	}
	return int(latest.Sub(since)/bucket) + 1
}

// buildChunk turns one bucket's rows into a chunk. Now is the latest row
// timestamp, or start when the bucket is empty. Stored rows have no feed
// order, so records are sorted by hex only to keep chunks deterministic;
// replay does not depend on that order.
func buildChunk(rows []positionRow, start time.Time) *history.Chunk {
	chunk := &history.Chunk{
		Now:      unixSeconds(start),
		Messages: len(rows),
		Aircraft: make([]history.Record, 0, len(rows)),
	}

	var latest time.Time
	for _, r := range rows {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}

		alt := trace.OnGround()
		if !r.OnGround {
			if !r.Altitude.Valid {
				chunk.Aircraft = append(chunk.Aircraft, history.Record{Hex: r.ICAO})
				continue
			}
			alt = trace.Feet(r.Altitude.Float64)
		}

		lat, lon := r.Latitude, r.Longitude
		chunk.Aircraft = append(chunk.Aircraft, history.Record{
			Hex:     r.ICAO,
			Lat:     &lat,
			Lon:     &lon,
			AltBaro: &alt,
		})
	}
	if !latest.IsZero() {
		chunk.Now = unixSeconds(latest)
	}

	slices.SortFunc(chunk.Aircraft, func(a, b history.Record) int {
		return cmp.Compare(a.Hex, b.Hex)
	})
	return chunk
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
