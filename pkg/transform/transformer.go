package transform

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/bqloader/pkg/etlerrors"
)

// Row maps column name to value. Values are scalars, nested maps or slices.
type Row map[string]any

// Table is an ordered, column-aligned set of rows. Every row holds exactly
// the keys in Columns. Columns are ordered by first appearance across rows;
// keys first seen in the same row are in lexical order.
type Table struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether the table has no rows or no columns. Rows built from
// empty objects carry nothing to load.
func (t *Table) Empty() bool {
	return t.Len() == 0 || len(t.Columns) == 0
}

// Records returns the rows as plain maps, in order.
func (t *Table) Records() []map[string]any {
	if t == nil {
		return nil
	}
	out := make([]map[string]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row
	}
	return out
}

var columnReplacer = strings.NewReplacer(" ", "_", "-", "_")

// NormalizeColumn lower-cases name and replaces spaces and hyphens with
// underscores. NormalizeColumn(NormalizeColumn(s)) == NormalizeColumn(s).
func NormalizeColumn(name string) string {
	return columnReplacer.Replace(strings.ToLower(name))
}

// Transformer converts decoded JSON into a Table.
type Transformer struct {
	logger *zap.Logger
}

// NewTransformer creates a transformer that logs through logger.
func NewTransformer(logger *zap.Logger) *Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{logger: logger}
}

// ToTable builds a table from raw: one row per object of an array, or a
// single row for an object. Scalars and arrays with non-object elements are
// a TransformFailure. An empty array yields an empty table.
func (t *Transformer) ToTable(raw any) (*Table, error) {
	t.logger.Info("transform_start")

	table, err := t.build(raw)
	if err != nil {
		t.logger.Error("transform_error", zap.Error(err))
		return nil, err
	}

	t.logger.Info("transform_dataframe_success",
		zap.Int("rows", len(table.Rows)),
		zap.Int("columns", len(table.Columns)))
	t.logger.Info("transform_clean_columns", zap.Strings("columns", table.Columns))
	return table, nil
}

func (t *Transformer) build(raw any) (*Table, error) {
	payload, err := Classify(raw)
	if err != nil {
		return nil, etlerrors.Transform(err, "cannot align array into rows")
	}

	var objects []map[string]any
	switch payload.Kind {
	case KindObject:
		objects = []map[string]any{payload.Object}
	case KindArrayOfObjects:
		objects = payload.Objects
	default:
		return nil, etlerrors.Transform(
			fmt.Errorf("got %s", describe(payload.Scalar)),
			"payload is not an object or array of objects")
	}

	table := &Table{
		Columns: []string{},
		Rows:    make([]Row, 0, len(objects)),
	}
	seen := make(map[string]bool)

	for i, obj := range objects {
		row := make(Row, len(obj))
		sources := make(map[string]string, len(obj))
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, key := range keys {
			col := NormalizeColumn(key)
			if prev, dup := sources[col]; dup {
				return nil, etlerrors.Transform(
					fmt.Errorf("keys %q and %q both normalise to %q", prev, key, col),
					"column name collision").
					WithDetail("row", i)
			}
			sources[col] = key
			row[col] = convertValue(obj[key])

			if !seen[col] {
				seen[col] = true
				table.Columns = append(table.Columns, col)
			}
		}
		table.Rows = append(table.Rows, row)
	}

	for _, row := range table.Rows {
		for _, col := range table.Columns {
			if _, ok := row[col]; !ok {
				row[col] = nil
			}
		}
	}
	return table, nil
}

// number matches the json.Number types of encoding/json and goccy/go-json.
type number interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

// convertValue copies v, turning JSON numbers into int64 when integral and
// float64 otherwise.
func convertValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = convertValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convertValue(item)
		}
		return out
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val)
		}
		return val
	case number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return v
	}
}
