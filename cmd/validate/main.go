// Command validate checks a saved seismic CSV feed against what the decoder
// expects: header columns, row shape, positions, identifiers and value ranges.
// It is meant for vetting fixtures and captured upstream payloads before they
// are used in tests or pointed at with FEED_URL.
//
// Usage:
//
//	go run ./cmd/validate -feed internal/pipeline/testdata/usgs_all_hour.csv
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
)

// requiredColumns are the headers the decoder reads for mandatory fields.
var requiredColumns = []string{"id", "place", "mag", "depth", "latitude", "longitude", "time"}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	feed := flag.String("feed", "", "path to a CSV feed file")
	flag.Parse()

	if *feed == "" {
		flag.Usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(*feed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read feed: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(string(data), os.Stdout))
}

// dataRow is a non-blank line after the header with its 1-based line number.
type dataRow struct {
	lineNum int
	text    string
}

func run(text string, out io.Writer) int {
	fmt.Fprintln(out, "=== Seismic Feed Validation ===")
	fmt.Fprintln(out)

	header, rows := splitFeed(text)
	if header == nil {
		fmt.Fprintln(out, "FATAL: feed has no header row")
		return 1
	}

	events := domain.DecodeFeed(text)
	phases := []*phase{
		validateHeader(header),
		validateRowShape(header, rows),
		validatePositions(header, rows),
		validateIdentifiers(events),
		validateRanges(events),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-30s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Rows: %d data, %d decoded, %d dropped\n", len(rows), len(events), len(rows)-len(events))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

func splitFeed(text string) ([]string, []dataRow) {
	var header []string
	var rows []dataRow
	lines := strings.Split(strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(text), "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if header == nil {
			header = domain.SplitFields(line)
			continue
		}
		rows = append(rows, dataRow{lineNum: i + 1, text: line})
	}
	return header, rows
}

func validateHeader(header []string) *phase {
	p := &phase{name: "Header columns"}
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		if seen[h] {
			p.errorf("duplicate column %q (first occurrence is used)", h)
		}
		seen[h] = true
	}
	for _, c := range requiredColumns {
		if !seen[c] {
			p.errorf("missing column %q", c)
		}
	}
	return p
}

func validateRowShape(header []string, rows []dataRow) *phase {
	p := &phase{name: "Row shape"}
	for _, r := range rows {
		if n := len(domain.SplitFields(r.text)); n != len(header) {
			p.errorf("line %d: %d fields, header has %d", r.lineNum, n, len(header))
		}
	}
	return p
}

// validatePositions reports rows the decoder will drop. Dropping is normal
// decoder behaviour, so this phase fails only when every row would be lost.
func validatePositions(header []string, rows []dataRow) *phase {
	p := &phase{name: "Positions"}
	headerLine := strings.Join(header, ",")
	dropped := 0
	for _, r := range rows {
		if len(domain.DecodeFeed(headerLine+"\n"+r.text)) == 0 {
			dropped++
			p.errorf("line %d: no finite latitude/longitude, row will be dropped", r.lineNum)
		}
	}
	if len(rows) > 0 && dropped < len(rows) {
		p.errors = nil
	}
	return p
}

func validateIdentifiers(events []domain.Quake) *phase {
	p := &phase{name: "Identifiers"}
	seen := make(map[string]int, len(events))
	for i, e := range events {
		if prev, ok := seen[e.ID]; ok {
			p.errorf("record %d: id %q already used by record %d", i+1, e.ID, prev+1)
			continue
		}
		seen[e.ID] = i
	}
	return p
}

func validateRanges(events []domain.Quake) *phase {
	p := &phase{name: "Value ranges"}
	for i, e := range events {
		if math.Abs(e.Latitude) > 90 {
			p.errorf("record %d (%s): latitude %g out of range", i+1, e.ID, e.Latitude)
		}
		if math.Abs(e.Longitude) > 180 {
			p.errorf("record %d (%s): longitude %g out of range", i+1, e.ID, e.Longitude)
		}
		if e.Time <= 0 {
			p.errorf("record %d (%s): event time missing or unparseable", i+1, e.ID)
		}
		if e.Gap != nil && (*e.Gap < 0 || *e.Gap > 360) {
			p.errorf("record %d (%s): gap %g outside [0, 360]", i+1, e.ID, *e.Gap)
		}
	}
	return p
}
