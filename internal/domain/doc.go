// Package domain models seismic events published by the USGS earthquake
// summary feeds.
//
// # Data Source
//
// The USGS Earthquake Hazards Program publishes rolling summary feeds as CSV at
// https://earthquake.usgs.gov/earthquakes/feed/v1.0/csv.php, e.g. all_day.csv.
// The first row is a header; column order is not guaranteed, so columns are
// located by name.
//
// # Feed Conventions
//
// Columns consumed:
//
//	id, place, mag, depth, latitude, longitude, time          required
//	magType, type                                             optional tags
//	nst, gap, dmin, rms, horizontalError, depthError,         optional numbers
//	magError, magNst
//
// Quoting:
//
//	Fields containing commas are double-quoted: "10 km SSW of Volcano, Hawaii".
//	A literal quote inside a quoted field is doubled: "He said ""hi""".
//
// Time format:
//
//	ISO 8601 in UTC, e.g. "2024-01-01T00:00:00.000Z". Feeds mirrored from
//	other tools sometimes carry epoch milliseconds instead; both are accepted.
//
// Missing values:
//
//	Optional numeric columns are empty when the network did not report them.
//	These decode to nil rather than zero so renderers can tell "0" from "unknown".
//
// # Tolerance
//
// [DecodeFeed] never fails. A row is only dropped when its position is
// unusable; every other defect degrades a single field.
package domain
