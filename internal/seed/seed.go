// Package seed bulk-loads candidates from CSV, XLSX, or YAML files and
// merges them into the index.
package seed

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/proximity-cli/internal/backfill"
	"github.com/sells-group/proximity-cli/internal/geo"
	"github.com/sells-group/proximity-cli/internal/model"
)

// Column aliases recognized in tabular files. Other columns become
// attributes.
var (
	externalIDColumns = []string{"external_id", "place_id", "id"}
	latColumns        = []string{"lat", "latitude"}
	lonColumns        = []string{"lon", "lng", "longitude"}
)

// LoadFile reads candidates from path. The format follows the extension:
// .csv, .xlsx, .yaml, or .yml.
func LoadFile(path string) ([]model.RawCandidate, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "seed: open csv")
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(f)
	case ".xlsx":
		return ReadXLSX(path, "")
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "seed: open yaml")
		}
		defer f.Close() //nolint:errcheck
		return ReadYAML(f)
	default:
		return nil, eris.Errorf("seed: unsupported file type %q", filepath.Ext(path))
	}
}

// fromRows maps a header row and data rows to candidates. Row numbers in
// errors are 1-based and count the header.
func fromRows(header []string, rows [][]string) ([]model.RawCandidate, error) {
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.ToLower(strings.TrimSpace(h))
	}
	extIdx, latIdx, lonIdx := indexOf(cols, externalIDColumns), indexOf(cols, latColumns), indexOf(cols, lonColumns)
	if extIdx < 0 || latIdx < 0 || lonIdx < 0 {
		return nil, eris.Errorf("seed: header must name external_id, lat, and lon columns (got %v)", header)
	}

	out := make([]model.RawCandidate, 0, len(rows))
	for n, row := range rows {
		line := n + 2
		if blank(row) {
			continue
		}
		cell := func(i int) string {
			if i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}

		ext := cell(extIdx)
		if ext == "" {
			return nil, eris.Errorf("seed: row %d: %s is empty", line, cols[extIdx])
		}
		lat, err := strconv.ParseFloat(cell(latIdx), 64)
		if err != nil {
			return nil, eris.Errorf("seed: row %d: %s %q is not a number", line, cols[latIdx], cell(latIdx))
		}
		lon, err := strconv.ParseFloat(cell(lonIdx), 64)
		if err != nil {
			return nil, eris.Errorf("seed: row %d: %s %q is not a number", line, cols[lonIdx], cell(lonIdx))
		}

		var attrs map[string]string
		for i, col := range cols {
			if i == extIdx || i == latIdx || i == lonIdx || col == "" {
				continue
			}
			if v := cell(i); v != "" {
				if attrs == nil {
					attrs = make(map[string]string)
				}
				attrs[col] = v
			}
		}
		out = append(out, model.RawCandidate{
			ExternalID: ext,
			Location:   geo.Point{Lat: lat, Lon: lon},
			Attributes: attrs,
		})
	}
	return out, nil
}

func indexOf(cols, names []string) int {
	for _, name := range names {
		for i, c := range cols {
			if c == name {
				return i
			}
		}
	}
	return -1
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Summary totals the outcome of Apply.
type Summary struct {
	Candidates int             `json:"candidates"`
	Inserted   int             `json:"inserted"`
	Existing   int             `json:"existing"`
	Rejected   int             `json:"rejected"`
	Skipped    []backfill.Skip `json:"skipped,omitempty"`
}

// Apply merges candidates in batches of batchSize. Rerunning with the same
// input inserts nothing new.
func Apply(ctx context.Context, m *backfill.Merger, candidates []model.RawCandidate, batchSize int) (*Summary, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	sum := &Summary{Candidates: len(candidates)}
	for start := 0; start < len(candidates); start += batchSize {
		if err := ctx.Err(); err != nil {
			return sum, eris.Wrap(err, "seed: canceled")
		}
		end := min(start+batchSize, len(candidates))

		res := m.Merge(ctx, candidates[start:end])
		sum.Inserted += len(res.Inserted)
		sum.Existing += len(res.Existing)
		sum.Rejected += res.Rejected
		sum.Skipped = append(sum.Skipped, res.Skipped...)

		zap.L().Info("seed: batch merged",
			zap.Int("offset", start),
			zap.Int("size", end-start),
			zap.Int("inserted", len(res.Inserted)),
		)
	}
	return sum, nil
}
