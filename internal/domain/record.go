package domain

import (
	"math"
	"strings"
)

const (
	ColumnSourceIP = "source_ip"
	ColumnLabel    = "alert"

	UnknownAddress = "unknown"
)

// ColumnKind is the inferred type of a tabular column.
type ColumnKind int

const (
	ColumnText ColumnKind = iota
	ColumnNumeric
)

// Table is a parsed tabular payload. Missing cells are recorded per row so
// the feature extractor can drop them.
type Table struct {
	Columns []string
	Kinds   []ColumnKind
	Records []*Record
	// Dropped counts rows the parser could not keep at all (ragged rows).
	Dropped int
}

// HasColumn reports whether the header contains name.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// NumericColumns returns the numeric columns in header order, excluding the
// ground-truth label column.
func (t *Table) NumericColumns() []string {
	cols := make([]string, 0, len(t.Columns))
	for i, c := range t.Columns {
		if c == ColumnLabel || i >= len(t.Kinds) {
			continue
		}
		if t.Kinds[i] == ColumnNumeric {
			cols = append(cols, c)
		}
	}
	return cols
}

// Labels returns the ground-truth label for each record, or nil when the
// table has no label column.
func (t *Table) Labels() []int {
	if !t.HasColumn(ColumnLabel) {
		return nil
	}
	labels := make([]int, len(t.Records))
	for i, r := range t.Records {
		labels[i] = r.Label
	}
	return labels
}

// Record is one row of tabular input.
type Record struct {
	Index    int                `json:"index"`
	SourceIP string             `json:"source_ip,omitempty"`
	Values   map[string]float64 `json:"values"`
	Attrs    map[string]string  `json:"attrs,omitempty"`
	Label    int                `json:"label"`
	HasLabel bool               `json:"has_label"`
	Missing  bool               `json:"-"`
}

func NewRecord(index int) *Record {
	return &Record{
		Index:  index,
		Values: make(map[string]float64, 8),
		Attrs:  make(map[string]string, 4),
	}
}

// KnownAddress reports whether the record carries a usable source address.
func (r *Record) KnownAddress() bool {
	return IsKnownAddress(r.SourceIP)
}

// IsKnownAddress reports whether addr is neither empty nor a placeholder.
func IsKnownAddress(addr string) bool {
	switch strings.ToLower(strings.TrimSpace(addr)) {
	case "", UnknownAddress, "-", "n/a", "none", "null":
		return false
	}
	return true
}

// IsMissing reports whether a raw cell denotes a missing value.
func IsMissing(cell string) bool {
	switch strings.TrimSpace(cell) {
	case "", "NA", "N/A", "NaN", "nan", "null", "NULL", "None", "<NA>":
		return true
	}
	return false
}

// FeatureRecord is a Record plus derived rolling aggregates.
type FeatureRecord struct {
	*Record
	Derived map[string]float64 `json:"derived,omitempty"`
}

// Value returns a raw or derived numeric value by column name.
func (f *FeatureRecord) Value(column string) (float64, bool) {
	if v, ok := f.Values[column]; ok {
		return v, true
	}
	v, ok := f.Derived[column]
	return v, ok
}

// Details flattens the record into the free-form payload persisted with
// alerts: every raw column plus every derived column.
func (f *FeatureRecord) Details() map[string]any {
	d := make(map[string]any, len(f.Values)+len(f.Attrs)+len(f.Derived)+2)
	for k, v := range f.Attrs {
		d[k] = v
	}
	for k, v := range f.Values {
		d[k] = v
	}
	for k, v := range f.Derived {
		d[k] = v
	}
	if f.SourceIP != "" {
		d[ColumnSourceIP] = f.SourceIP
	}
	if f.HasLabel {
		d[ColumnLabel] = f.Label
	}
	return d
}

// FeatureSet is the request-scoped batch consumed by the scorers.
type FeatureSet struct {
	Columns []string
	Rows    []*FeatureRecord
}

func (fs *FeatureSet) Len() int {
	if fs == nil {
		return 0
	}
	return len(fs.Rows)
}

// MatrixFor projects the rows onto columns. It fails when a column is absent
// or a value is not finite.
func (fs *FeatureSet) MatrixFor(columns []string) ([][]float64, error) {
	out := make([][]float64, len(fs.Rows))
	for i, row := range fs.Rows {
		vec := make([]float64, len(columns))
		for j, c := range columns {
			v, ok := row.Value(c)
			if !ok {
				return nil, NewInputError("missing feature column %q", c)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, NewInputError("non-finite value in column %q at row %d", c, row.Index)
			}
			vec[j] = v
		}
		out[i] = vec
	}
	return out, nil
}

// Labels returns the ground-truth labels of the set, or an all-zero vector
// when no row carries a label.
func (fs *FeatureSet) Labels() []int {
	labels := make([]int, fs.Len())
	for i, r := range fs.Rows {
		if r.HasLabel {
			labels[i] = r.Label
		}
	}
	return labels
}

// HasLabels reports whether every row carries a ground-truth label.
func (fs *FeatureSet) HasLabels() bool {
	if fs.Len() == 0 {
		return false
	}
	for _, r := range fs.Rows {
		if !r.HasLabel {
			return false
		}
	}
	return true
}
