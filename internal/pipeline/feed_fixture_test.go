package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func TestScheduler_WithRecordedFeed(t *testing.T) {
	h := newHarness(fetchResponse{text: readFixture(t, "usgs_all_hour.csv")})

	r := h.sched.Refresh(context.Background())
	require.NoError(t, r.Err)

	// The Fiji row has no coordinates and is dropped.
	events := h.state.Events()
	require.Len(t, events, 5)
	assert.Equal(t, 5, r.Events)

	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"nc73977621", "ak0241ahj2vd", "hv74021797", "ci40589303", "us7000lmzq"}, ids)

	geysers := events[0]
	assert.Equal(t, "5 km NW of The Geysers, CA", geysers.Place)
	assert.InDelta(t, 0.63, geysers.Magnitude, 1e-9)
	assert.EqualValues(t, 1705319561470, geysers.Time)
	require.NotNil(t, geysers.MagType)
	assert.Equal(t, "md", *geysers.MagType)
	require.NotNil(t, geysers.Stations)
	assert.InDelta(t, 9.0, *geysers.Stations, 1e-9)

	anchorage := events[1]
	assert.Nil(t, anchorage.Stations)
	assert.Nil(t, anchorage.Gap)
	require.NotNil(t, anchorage.RMS)
	assert.InDelta(t, 0.45, *anchorage.RMS, 1e-9)

	blast := events[3]
	require.NotNil(t, blast.EventType)
	assert.Equal(t, "quarry blast", *blast.EventType)

	banda := events[4]
	assert.InDelta(t, -6.1893, banda.Latitude, 1e-9)
	assert.InDelta(t, 145.2, banda.Depth, 1e-9)

	require.Equal(t, 1, h.sink.count())
	assert.Equal(t, events, h.sink.published[0])
}
