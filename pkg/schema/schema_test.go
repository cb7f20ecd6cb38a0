package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/bqloader/pkg/etlerrors"
)

const stateYAML = `
fields:
  - name: id
    type: INT64
    mode: REQUIRED
  - name: nome
    type: STRING
    mode: REQUIRED
  - name: sigla
    type: STRING
  - name: regiao
    type: RECORD
    description: ${REGION_DESCRIPTION}
    fields:
      - name: id
        type: INTEGER
      - name: nome
        type: STRING
      - name: sigla
        type: STRING
`

func TestStateSchema(t *testing.T) {
	s := StateSchema()
	require.Len(t, s, 4)

	assert.Equal(t, "id", s[0].Name)
	assert.Equal(t, bigquery.IntegerFieldType, s[0].Type)
	assert.True(t, s[0].Required)
	assert.True(t, s[1].Required)
	assert.False(t, s[2].Required)

	regiao := s[3]
	assert.Equal(t, bigquery.RecordFieldType, regiao.Type)
	assert.False(t, regiao.Required)
	require.Len(t, regiao.Schema, 3)
	for _, f := range regiao.Schema {
		assert.False(t, f.Required)
	}
}

func TestParse_MatchesBuiltin(t *testing.T) {
	t.Setenv("REGION_DESCRIPTION", "Grande região")

	s, err := Parse([]byte(stateYAML))
	require.NoError(t, err)

	builtin := StateSchema()
	require.Len(t, s, len(builtin))
	for i := range builtin {
		assert.Equal(t, builtin[i].Name, s[i].Name)
		assert.Equal(t, builtin[i].Type, s[i].Type)
		assert.Equal(t, builtin[i].Required, s[i].Required)
	}
	assert.Equal(t, "Grande região", s[3].Description)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name       string
		yaml       string
		validation bool
	}{
		{"no fields", "fields: []", true},
		{"bad yaml", "fields: [name", false},
		{"unknown type", "fields:\n  - name: a\n    type: BLOB", true},
		{"unknown mode", "fields:\n  - name: a\n    type: STRING\n    mode: OPTIONAL", true},
		{"missing name", "fields:\n  - type: STRING", true},
		{"duplicate", "fields:\n  - name: a\n    type: STRING\n  - name: A\n    type: STRING", true},
		{"empty record", "fields:\n  - name: r\n    type: RECORD", true},
		{"nested on scalar", "fields:\n  - name: a\n    type: STRING\n    fields:\n      - name: b\n        type: STRING", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, tt.validation, etlerrors.IsType(err, etlerrors.ErrorTypeValidation))
		})
	}
}

func TestResolve(t *testing.T) {
	s, err := Resolve("")
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Resolve(BuiltinState)
	require.NoError(t, err)
	assert.Len(t, s, 4)

	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fields:\n  - name: code\n    type: STRING\n    mode: REPEATED\n"), 0o600))
	s, err = Resolve(path)
	require.NoError(t, err)
	require.Len(t, s, 1)
	assert.True(t, s[0].Repeated)

	_, err = Resolve(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidators(t *testing.T) {
	i, ok := ValidateInt("12")
	assert.True(t, ok)
	assert.Equal(t, int64(12), i)

	i, ok = ValidateInt(3.9)
	assert.True(t, ok)
	assert.Equal(t, int64(3), i)

	_, ok = ValidateInt("3.5")
	assert.False(t, ok)

	i, ok = ValidateInt(json.Number("42"))
	assert.True(t, ok)
	assert.Equal(t, int64(42), i)

	f, ok := ValidateFloat(" 2.5 ")
	assert.True(t, ok)
	assert.Equal(t, 2.5, f)

	_, ok = ValidateFloat(map[string]any{})
	assert.False(t, ok)

	s, ok := ValidateString("  Acre ")
	assert.True(t, ok)
	assert.Equal(t, "Acre", s)

	s, ok = ValidateString(int64(7))
	assert.True(t, ok)
	assert.Equal(t, "7", s)

	_, ok = ValidateString(nil)
	assert.False(t, ok)

	s, ok = ValidateString(map[string]any{"nome": "Norte", "id": int64(1)})
	assert.True(t, ok)
	assert.Equal(t, `{"id":1,"nome":"Norte"}`, s)

	s, ok = ValidateString([]any{"a", int64(2), map[string]any{"b": true}})
	assert.True(t, ok)
	assert.Equal(t, `["a",2,{"b":true}]`, s)

	_, ok = ValidateDict([]any{})
	assert.False(t, ok)

	assert.True(t, IsEmpty(""))
	assert.True(t, IsEmpty(map[string]any{}))
	assert.False(t, IsEmpty(0))

	ts, ok := ParseTime("2024-03-01 12:30:00")
	assert.True(t, ok)
	assert.Equal(t, 12, ts.Hour())

	_, ok = ParseTime("yesterday")
	assert.False(t, ok)
}

func TestConform_StateRecord(t *testing.T) {
	row := map[string]any{
		"id":    int64(12),
		"nome":  " Acre ",
		"sigla": "AC",
		"regiao": map[string]any{
			"id":    "1",
			"nome":  "Norte",
			"sigla": "N",
			"extra": true,
		},
		"unused": "dropped",
	}

	got := Conform(StateSchema(), row)

	assert.Equal(t, map[string]any{
		"id":    int64(12),
		"nome":  "Acre",
		"sigla": "AC",
		"regiao": map[string]any{
			"id":    int64(1),
			"nome":  "Norte",
			"sigla": "N",
		},
	}, got)
}

func TestConform_InvalidValuesBecomeNull(t *testing.T) {
	s := bigquery.Schema{
		{Name: "id", Type: bigquery.IntegerFieldType},
		{Name: "regiao", Type: bigquery.RecordFieldType, Schema: bigquery.Schema{{Name: "id", Type: bigquery.IntegerFieldType}}},
		{Name: "tags", Type: bigquery.StringFieldType, Repeated: true},
		{Name: "at", Type: bigquery.TimestampFieldType},
	}

	got := Conform(s, map[string]any{
		"id":     "not a number",
		"regiao": "norte",
		"tags":   []any{"a", nil, " b"},
		"at":     "2024-03-01T10:00:00-03:00",
	})

	assert.Nil(t, got["id"])
	assert.Nil(t, got["regiao"])
	assert.Equal(t, []any{"a", "b"}, got["tags"])
	assert.Equal(t, "2024-03-01T13:00:00Z", got["at"])
}
