package seed

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/proximity-cli/internal/model"
)

// ReadCSV parses a header row followed by one candidate per row.
func ReadCSV(r io.Reader) ([]model.RawCandidate, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "seed: read csv")
	}
	if len(records) == 0 {
		return nil, eris.New("seed: csv has no header row")
	}
	return fromRows(records[0], records[1:])
}
