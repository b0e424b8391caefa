// Package view derives renderer-facing data from the published event set:
// a magnitude-filtered subsequence, summary statistics and per-event points
// carrying a height and a colour.
package view

import (
	"fmt"
	"math"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
)

// Field names a numeric event attribute usable for height or colour.
type Field string

const (
	FieldMagnitude       Field = "mag"
	FieldDepth           Field = "depth"
	FieldStations        Field = "nst"
	FieldGap             Field = "gap"
	FieldMinDistance     Field = "dmin"
	FieldRMS             Field = "rms"
	FieldHorizontalError Field = "horizontalError"
	FieldDepthError      Field = "depthError"
	FieldMagError        Field = "magError"
	FieldMagStations     Field = "magNst"
)

// Fields lists every selectable field in display order.
var Fields = []Field{
	FieldMagnitude, FieldDepth, FieldStations, FieldGap, FieldMinDistance,
	FieldRMS, FieldHorizontalError, FieldDepthError, FieldMagError, FieldMagStations,
}

// ParseField validates a field name. Matching is exact, as the names mirror
// the feed's column headers.
func ParseField(s string) (Field, error) {
	for _, f := range Fields {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown field %q", s)
}

// Value extracts the field from q. ok is false when the event does not carry
// it or the value is not finite.
func (f Field) Value(q domain.Quake) (float64, bool) {
	var v *float64
	switch f {
	case FieldMagnitude:
		v = &q.Magnitude
	case FieldDepth:
		v = &q.Depth
	case FieldStations:
		v = q.Stations
	case FieldGap:
		v = q.Gap
	case FieldMinDistance:
		v = q.MinDistance
	case FieldRMS:
		v = q.RMS
	case FieldHorizontalError:
		v = q.HorizontalError
	case FieldDepthError:
		v = q.DepthError
	case FieldMagError:
		v = q.MagError
	case FieldMagStations:
		v = q.MagStations
	}
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

// Domain is the value range mapped onto the colour ramp.
type Domain struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Params are the user-chosen view parameters.
type Params struct {
	MinMagnitude float64
	HeightField  Field
	ColorField   Field
	// ColorDomain overrides the domain observed over the filtered events.
	ColorDomain *Domain
}

// DefaultParams shows every event, with magnitude driving height and depth
// driving colour.
func DefaultParams() Params {
	return Params{
		HeightField: FieldMagnitude,
		ColorField:  FieldDepth,
	}
}

// Stats summarise the filtered events.
type Stats struct {
	Count         int     `json:"count"`
	MaxMagnitude  float64 `json:"max_magnitude"`
	MeanMagnitude float64 `json:"mean_magnitude"`
}

// Point is one event positioned for geographic rendering.
type Point struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Height    float64 `json:"height"`
	Color     Color   `json:"color"`
}

// View is the derived state for one set of Params.
type View struct {
	Events      []domain.Quake `json:"events"`
	Stats       Stats          `json:"stats"`
	Points      []Point        `json:"points"`
	ColorDomain Domain         `json:"color_domain"`
}

// Compute filters events by magnitude, preserving order, and maps each kept
// event to a Point.
func Compute(events []domain.Quake, p Params) View {
	filtered := make([]domain.Quake, 0, len(events))
	for _, q := range events {
		if q.Magnitude >= p.MinMagnitude {
			filtered = append(filtered, q)
		}
	}

	d := observedDomain(filtered, p.ColorField)
	if p.ColorDomain != nil {
		d = *p.ColorDomain
	}

	points := make([]Point, 0, len(filtered))
	for _, q := range filtered {
		height, _ := p.HeightField.Value(q)
		color := Fallback
		if v, ok := p.ColorField.Value(q); ok {
			color = Ramp(v, d)
		}
		points = append(points, Point{
			ID:        q.ID,
			Latitude:  q.Latitude,
			Longitude: q.Longitude,
			Height:    height,
			Color:     color,
		})
	}

	return View{
		Events:      filtered,
		Stats:       summarize(filtered),
		Points:      points,
		ColorDomain: d,
	}
}

func summarize(events []domain.Quake) Stats {
	if len(events) == 0 {
		return Stats{}
	}
	maxMag := events[0].Magnitude
	var sum float64
	for _, q := range events {
		maxMag = math.Max(maxMag, q.Magnitude)
		sum += q.Magnitude
	}
	return Stats{
		Count:         len(events),
		MaxMagnitude:  maxMag,
		MeanMagnitude: sum / float64(len(events)),
	}
}

// observedDomain spans the field's values, floored to at least [0, 1] so a
// single-valued or empty set still has a usable range.
func observedDomain(events []domain.Quake, f Field) Domain {
	d := Domain{Min: 0, Max: 1}
	for _, q := range events {
		v, ok := f.Value(q)
		if !ok {
			continue
		}
		d.Min = math.Min(d.Min, v)
		d.Max = math.Max(d.Max, v)
	}
	return d
}
