package domain

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"
)

// lineBreakRe matches any line-ending style: CRLF, LF or a bare CR.
var lineBreakRe = regexp.MustCompile(`\r\n|\n|\r`)

// timeLayouts are tried in order before falling back to epoch milliseconds.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// columns holds the positional index of each known header, -1 when absent.
type columns struct {
	id, place, mag, depth, lat, lon, time          int
	magType, eventType                              int
	nst, gap, dmin, rms, horizErr, depthErr, magErr int
	magNst                                          int
}

// DecodeFeed converts raw CSV feed text into quakes. It never fails: rows
// without a finite latitude and longitude are skipped and every other defect
// only affects the field concerned.
func DecodeFeed(text string) []Quake {
	lines := nonBlankLines(text)
	if len(lines) < 2 {
		return []Quake{}
	}

	cols := indexHeader(SplitFields(lines[0]))

	quakes := make([]Quake, 0, len(lines)-1)
	for _, line := range lines[1:] {
		q, ok := decodeRow(cols, SplitFields(line))
		if !ok {
			continue
		}
		quakes = append(quakes, q)
	}
	return quakes
}

// SplitFields splits one CSV line on commas outside double-quoted spans.
// Inside a quoted span a doubled quote is a literal quote. Every field is
// trimmed of surrounding whitespace.
func SplitFields(line string) []string {
	var (
		fields   []string
		cur      strings.Builder
		inQuotes bool
	)

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"' && inQuotes && i+1 < len(line) && line[i+1] == '"':
			cur.WriteByte('"')
			i++
		case c == '"':
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(fields, strings.TrimSpace(cur.String()))
}

func nonBlankLines(text string) []string {
	raw := lineBreakRe.Split(text, -1)
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

func indexHeader(header []string) columns {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	col := func(name string) int {
		if i, ok := idx[name]; ok {
			return i
		}
		return -1
	}

	return columns{
		id:        col("id"),
		place:     col("place"),
		mag:       col("mag"),
		depth:     col("depth"),
		lat:       col("latitude"),
		lon:       col("longitude"),
		time:      col("time"),
		magType:   col("magType"),
		eventType: col("type"),
		nst:       col("nst"),
		gap:       col("gap"),
		dmin:      col("dmin"),
		rms:       col("rms"),
		horizErr:  col("horizontalError"),
		depthErr:  col("depthError"),
		magErr:    col("magError"),
		magNst:    col("magNst"),
	}
}

func decodeRow(cols columns, fields []string) (Quake, bool) {
	get := func(i int) string {
		if i < 0 || i >= len(fields) {
			return ""
		}
		return fields[i]
	}
	num := func(i int) *float64 {
		v, ok := parseFinite(get(i))
		if !ok {
			return nil
		}
		return &v
	}
	tag := func(i int) *string {
		s := get(i)
		if s == "" {
			return nil
		}
		return &s
	}

	lat, latOK := parseFinite(get(cols.lat))
	lon, lonOK := parseFinite(get(cols.lon))
	if !latOK || !lonOK {
		return Quake{}, false
	}

	id := get(cols.id)
	if id == "" {
		id = xid.New().String()
	}

	mag, _ := parseFinite(get(cols.mag))
	depth, _ := parseFinite(get(cols.depth))

	return Quake{
		ID:        id,
		Place:     get(cols.place),
		Magnitude: mag,
		Depth:     depth,
		Latitude:  lat,
		Longitude: lon,
		Time:      parseEventTime(get(cols.time)),

		MagType:   tag(cols.magType),
		EventType: tag(cols.eventType),

		Stations:        num(cols.nst),
		Gap:             num(cols.gap),
		MinDistance:     num(cols.dmin),
		RMS:             num(cols.rms),
		HorizontalError: num(cols.horizErr),
		DepthError:      num(cols.depthErr),
		MagError:        num(cols.magErr),
		MagStations:     num(cols.magNst),
	}, true
}

// parseFinite parses s as a float64. Empty input and results that are NaN or
// infinite report false; the returned value is then 0.
func parseFinite(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// maxEpochMillis bounds numeric times to ±100,000,000 days around the epoch.
const maxEpochMillis = 8.64e15

// parseEventTime returns epoch milliseconds for a calendar date/time string,
// falling back to a numeric epoch-millisecond value, or 0 when neither parses.
func parseEventTime(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}
	if v, ok := parseFinite(s); ok && math.Abs(v) <= maxEpochMillis {
		return int64(v)
	}
	return 0
}
