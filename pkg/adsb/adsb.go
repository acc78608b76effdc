package adsb

import (
	"context"

	"github.com/unklstewy/ads-trace/pkg/trace"
)

// Aircraft is one aircraft in a live snapshot.
// All position data is in WGS84 coordinate system.
type Aircraft struct {
	// ICAO is the unique 24-bit ICAO aircraft address (e.g., "a12345")
	ICAO string

	// Callsign is the flight number or aircraft registration
	Callsign string

	// Latitude in decimal degrees (-90 to +90)
	Latitude float64

	// Longitude in decimal degrees (-180 to +180)
	Longitude float64

	// Altitude is the barometric altitude, or ground
	Altitude trace.Altitude

	// HasPosition is false when the feed carried no lat/lon/alt_baro for this aircraft
	HasPosition bool

	// GroundSpeed in knots
	GroundSpeed float64

	// Track is the ground track in degrees (0-359)
	Track float64

	// Timestamp is when the position was received, in seconds since the epoch
	Timestamp float64
}

// Position returns the aircraft position in trace form.
func (a Aircraft) Position() trace.Position {
	return trace.Position{
		Latitude:  a.Latitude,
		Longitude: a.Longitude,
		Altitude:  a.Altitude,
	}
}

// Snapshot is the set of aircraft returned by one poll.
type Snapshot struct {
	// Now is the server time of the snapshot in seconds since the epoch
	Now float64

	// Messages is the receiver message counter, when reported
	Messages int

	Aircraft []Aircraft
}

// DataSource is the interface that live ADS-B providers implement.
type DataSource interface {
	// GetAircraft returns every aircraft within radiusNM nautical miles of the point.
	GetAircraft(ctx context.Context, centerLat, centerLon, radiusNM float64) (*Snapshot, error)

	// Close cleanly shuts down the data source connection.
	Close() error
}
