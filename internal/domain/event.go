package domain

// Quake is one decoded seismic observation from the feed.
//
// Optional fields are nil when the source column was missing or did not parse
// to a finite number (or, for the tags, was empty).
type Quake struct {
	ID        string  `json:"id"`
	Place     string  `json:"place"`
	Magnitude float64 `json:"mag"`
	Depth     float64 `json:"depth"` // km
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Time      int64   `json:"time"` // epoch milliseconds

	MagType   *string `json:"magType,omitempty"`
	EventType *string `json:"type,omitempty"`

	// Station-quality metadata.
	Stations        *float64 `json:"nst,omitempty"`
	Gap             *float64 `json:"gap,omitempty"` // azimuthal gap, degrees
	MinDistance     *float64 `json:"dmin,omitempty"`
	RMS             *float64 `json:"rms,omitempty"`
	HorizontalError *float64 `json:"horizontalError,omitempty"`
	DepthError      *float64 `json:"depthError,omitempty"`
	MagError        *float64 `json:"magError,omitempty"`
	MagStations     *float64 `json:"magNst,omitempty"`
}
