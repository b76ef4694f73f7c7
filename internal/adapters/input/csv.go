package input

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

const (
	// MaxCellLength bounds a single cell; longer cells are truncated.
	MaxCellLength = 4096
	// MaxColumns bounds the header width.
	MaxColumns = 512

	utf8BOM = "\ufeff"
)

var ErrEmptyPayload = errors.New("empty payload")

// CSVParser decodes comma separated tables with a header row. Column types
// are decided over the whole table: a column is numeric when every
// non-missing cell parses as a float.
type CSVParser struct {
	comma rune
}

func NewCSVParser() *CSVParser {
	return &CSVParser{comma: ','}
}

func (p *CSVParser) Format() string {
	return "csv"
}

func (p *CSVParser) Parse(r io.Reader) (*domain.Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = p.comma
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, domain.WrapInputError(ErrEmptyPayload, "no header row")
	}
	if err != nil {
		return nil, domain.WrapInputError(err, "malformed csv header")
	}

	var rows [][]string
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, domain.WrapInputError(err, "malformed csv body")
		}
		rows = append(rows, fields)
	}

	return p.Build(header, rows)
}

// Build types the columns of rows and converts them into records. Rows whose
// width differs from the header are dropped and counted.
func (p *CSVParser) Build(header []string, rows [][]string) (*domain.Table, error) {
	columns, err := normalizeHeader(header)
	if err != nil {
		return nil, err
	}

	table := &domain.Table{
		Columns: columns,
		Kinds:   make([]domain.ColumnKind, len(columns)),
		Records: make([]*domain.Record, 0, len(rows)),
	}

	kept := rows[:0:0]
	for _, fields := range rows {
		if len(fields) != len(columns) {
			table.Dropped++
			continue
		}
		kept = append(kept, fields)
	}
	if table.Dropped > 0 {
		log.Debug().Int("dropped", table.Dropped).Msg("Dropped ragged csv rows")
	}

	for i, name := range columns {
		table.Kinds[i] = inferKind(name, i, kept)
	}

	for idx, fields := range kept {
		table.Records = append(table.Records, p.record(idx, columns, table.Kinds, fields))
	}

	return table, nil
}

func (p *CSVParser) record(index int, columns []string, kinds []domain.ColumnKind, fields []string) *domain.Record {
	rec := domain.NewRecord(index)

	for i, name := range columns {
		cell := strings.TrimSpace(fields[i])
		if len(cell) > MaxCellLength {
			cell = cell[:MaxCellLength]
		}
		if domain.IsMissing(cell) {
			rec.Missing = true
			continue
		}

		switch {
		case name == domain.ColumnSourceIP:
			rec.SourceIP = cell
		case kinds[i] == domain.ColumnNumeric:
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				rec.Missing = true
				continue
			}
			if name == domain.ColumnLabel {
				rec.Label = int(v)
				rec.HasLabel = true
				continue
			}
			rec.Values[name] = v
		default:
			rec.Attrs[name] = cell
		}
	}

	return rec
}

func inferKind(name string, col int, rows [][]string) domain.ColumnKind {
	if name == domain.ColumnSourceIP {
		return domain.ColumnText
	}
	seen := false
	for _, fields := range rows {
		cell := strings.TrimSpace(fields[col])
		if domain.IsMissing(cell) {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return domain.ColumnText
		}
		if math.IsNaN(v) {
			continue
		}
		seen = true
	}
	if !seen {
		return domain.ColumnText
	}
	return domain.ColumnNumeric
}

func normalizeHeader(header []string) ([]string, error) {
	if len(header) == 0 {
		return nil, domain.WrapInputError(ErrEmptyPayload, "no header row")
	}
	if len(header) > MaxColumns {
		return nil, domain.NewInputError("too many columns: %d (max %d)", len(header), MaxColumns)
	}

	columns := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, domain.NewInputError("empty column name at position %d", i)
		}
		if _, dup := seen[h]; dup {
			return nil, domain.NewInputError("duplicate column %q", h)
		}
		seen[h] = struct{}{}
		columns[i] = h
	}
	return columns, nil
}
