package view

import (
	"fmt"
	"math"
)

// Color is an opaque RGB colour. It marshals as a "#rrggbb" string.
type Color struct {
	R, G, B uint8
}

// Ramp stops and the colour used for events without a usable value.
var (
	Cyan     = Color{R: 0x00, G: 0xff, B: 0xff}
	Orange   = Color{R: 0xff, G: 0xa5, B: 0x00}
	Red      = Color{R: 0xff, G: 0x00, B: 0x00}
	Fallback = Color{R: 0x80, G: 0x80, B: 0x80}
)

// Hex formats c as "#rrggbb".
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c Color) String() string { return c.Hex() }

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

// Ramp maps v onto cyan → orange → red by its position in d. Values outside
// d clamp to the end stops; a non-finite v yields Fallback.
func Ramp(v float64, d Domain) Color {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Fallback
	}
	var t float64
	if span := d.Max - d.Min; span > 0 {
		t = (v - d.Min) / span
	}
	t = math.Max(0, math.Min(1, t))

	if t <= 0.5 {
		return lerp(Cyan, Orange, t*2)
	}
	return lerp(Orange, Red, (t-0.5)*2)
}

func lerp(a, b Color, t float64) Color {
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return Color{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B)}
}
