package history

import (
	"encoding/json"
	"fmt"

	"github.com/unklstewy/ads-trace/pkg/trace"
)

// Chunk is one historical snapshot of every aircraft seen at a single time.
type Chunk struct {
	// Now is the snapshot time in seconds
	Now float64 `json:"now"`

	// Messages is the receiver's message counter at snapshot time
	Messages int `json:"messages"`

	// Aircraft lists the records in feed order
	Aircraft []Record `json:"aircraft"`
}

// Record is a single aircraft entry in a chunk.
// Position fields are optional; records without them are not replayed.
type Record struct {
	// Hex is the ICAO Mode S hex code (e.g., "a12345")
	Hex string `json:"hex"`

	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`

	// AltBaro is barometric altitude in feet, or "ground"
	AltBaro *trace.Altitude `json:"alt_baro,omitempty"`
}

// UnmarshalJSON decodes each field on its own. A field with an unexpected
// type or value is left unset, as is every field of a record that is not an
// object, so one bad record is skipped on replay instead of failing the
// whole chunk.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		Hex     json.RawMessage `json:"hex"`
		Lat     json.RawMessage `json:"lat"`
		Lon     json.RawMessage `json:"lon"`
		AltBaro json.RawMessage `json:"alt_baro"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		*r = Record{}
		return nil
	}

	*r = Record{
		Lat:     decodeField[float64](raw.Lat),
		Lon:     decodeField[float64](raw.Lon),
		AltBaro: decodeField[trace.Altitude](raw.AltBaro),
	}
	if hex := decodeField[string](raw.Hex); hex != nil {
		r.Hex = *hex
	}
	return nil
}

// decodeField returns nil for an absent, null or undecodable value.
func decodeField[T any](raw json.RawMessage) *T {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil
	}
	return v
}

// Position returns the record's position if hex, lat, lon and alt_baro are
// all present.
func (r Record) Position() (trace.Position, bool) {
	if r.Hex == "" || r.Lat == nil || r.Lon == nil || r.AltBaro == nil {
		return trace.Position{}, false
	}
	return trace.Position{
		Latitude:  *r.Lat,
		Longitude: *r.Lon,
		Altitude:  *r.AltBaro,
	}, true
}

// ParseChunk decodes a chunk file.
func ParseChunk(data []byte) (*Chunk, error) {
	var chunk Chunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("failed to parse chunk: %w", err)
	}
	return &chunk, nil
}

// ChunkName returns the file name of chunk i.
func ChunkName(i int) string {
	return fmt.Sprintf("chunk_%d.json", i)
}
