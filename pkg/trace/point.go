package trace

import (
	"encoding/json"
	"fmt"
	"math"
)

// groundValue is the wire value used by ADS-B feeds for aircraft on the ground.
const groundValue = "ground"

// Altitude is a barometric altitude in feet, or the "ground" sentinel.
type Altitude struct {
	// Feet above mean sea level. Zero when Ground is set.
	Feet float64

	// Ground is true when the aircraft reported "ground" instead of a number
	Ground bool
}

// Feet returns an airborne altitude.
func Feet(ft float64) Altitude {
	return Altitude{Feet: ft}
}

// OnGround returns the ground sentinel altitude.
func OnGround() Altitude {
	return Altitude{Ground: true}
}

// changedBy reports whether the altitude moved more than threshold feet from prev.
// A transition between ground and airborne always counts as a change.
func (a Altitude) changedBy(prev Altitude, threshold float64) bool {
	if a.Ground || prev.Ground {
		return a.Ground != prev.Ground
	}
	return math.Abs(a.Feet-prev.Feet) > threshold
}

// MarshalJSON encodes the altitude as a number, or "ground".
func (a Altitude) MarshalJSON() ([]byte, error) {
	if a.Ground {
		return json.Marshal(groundValue)
	}
	return json.Marshal(a.Feet)
}

// UnmarshalJSON accepts a number or the string "ground".
func (a *Altitude) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch val := v.(type) {
	case float64:
		*a = Feet(val)
	case string:
		if val != groundValue {
			return fmt.Errorf("invalid altitude %q", val)
		}
		*a = OnGround()
	default:
		return fmt.Errorf("invalid altitude %s", string(data))
	}
	return nil
}

// Position is a single raw position sample.
type Position struct {
	// Latitude in decimal degrees (-90 to +90)
	Latitude float64

	// Longitude in decimal degrees (-180 to +180)
	Longitude float64

	// Altitude is the barometric altitude, or ground
	Altitude Altitude
}

// samePosition reports whether two positions are equal within epsilon degrees.
func samePosition(a, b Position, epsilon float64) bool {
	return math.Max(math.Abs(a.Latitude-b.Latitude), math.Abs(a.Longitude-b.Longitude)) < epsilon
}

// Point is one retained vertex of a trace.
// It encodes to JSON as the tuple [lat, lon, alt, estimated(0|1), timestamp].
type Point struct {
	Latitude  float64
	Longitude float64
	Altitude  Altitude

	// Estimated marks points recorded during or right after a sampling gap
	Estimated bool

	// Timestamp in seconds
	Timestamp float64
}

// MarshalJSON encodes the point as a 5-tuple.
func (p Point) MarshalJSON() ([]byte, error) {
	estimated := 0
	if p.Estimated {
		estimated = 1
	}
	return json.Marshal([]interface{}{p.Latitude, p.Longitude, p.Altitude, estimated, p.Timestamp})
}

// UnmarshalJSON decodes the 5-tuple form produced by MarshalJSON.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 5 {
		return fmt.Errorf("trace point: expected 5 fields, got %d", len(raw))
	}

	var estimated int
	if err := json.Unmarshal(raw[0], &p.Latitude); err != nil {
		return fmt.Errorf("trace point latitude: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Longitude); err != nil {
		return fmt.Errorf("trace point longitude: %w", err)
	}
	if err := json.Unmarshal(raw[2], &p.Altitude); err != nil {
		return fmt.Errorf("trace point altitude: %w", err)
	}
	if err := json.Unmarshal(raw[3], &estimated); err != nil {
		return fmt.Errorf("trace point flag: %w", err)
	}
	if err := json.Unmarshal(raw[4], &p.Timestamp); err != nil {
		return fmt.Errorf("trace point timestamp: %w", err)
	}
	p.Estimated = estimated != 0
	return nil
}
