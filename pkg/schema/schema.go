// Package schema declares destination table schemas: the built-in IBGE state
// record and schemas read from YAML files.
package schema

import (
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/bigquery"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/bqloader/pkg/etlerrors"
)

// BuiltinState names the built-in IBGE state schema.
const BuiltinState = "ibge_state"

// StateSchema returns the IBGE state record: an integer id, a name, an
// optional code and an optional nested region.
func StateSchema() bigquery.Schema {
	return bigquery.Schema{
		{Name: "id", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "nome", Type: bigquery.StringFieldType, Required: true},
		{Name: "sigla", Type: bigquery.StringFieldType},
		{
			Name: "regiao",
			Type: bigquery.RecordFieldType,
			Schema: bigquery.Schema{
				{Name: "id", Type: bigquery.IntegerFieldType},
				{Name: "nome", Type: bigquery.StringFieldType},
				{Name: "sigla", Type: bigquery.StringFieldType},
			},
		},
	}
}

// Resolve returns the schema named by ref: "" yields nil (infer on load),
// BuiltinState yields StateSchema, anything else is read as a YAML file.
func Resolve(ref string) (bigquery.Schema, error) {
	switch strings.TrimSpace(ref) {
	case "":
		return nil, nil
	case BuiltinState:
		return StateSchema(), nil
	default:
		return LoadFile(ref)
	}
}

// FieldSpec is one column in a YAML schema file.
type FieldSpec struct {
	Name        string      `yaml:"name"`
	Type        string      `yaml:"type"`
	Mode        string      `yaml:"mode,omitempty"`
	Description string      `yaml:"description,omitempty"`
	Fields      []FieldSpec `yaml:"fields,omitempty"`
}

// File is the YAML schema document.
type File struct {
	Fields []FieldSpec `yaml:"fields"`
}

// LoadFile reads a YAML schema file. ${VAR} references are replaced with
// environment values before parsing.
func LoadFile(path string) (bigquery.Schema, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML schema document.
func Parse(data []byte) (bigquery.Schema, error) {
	var file File
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(file.Fields) == 0 {
		return nil, etlerrors.New(etlerrors.ErrorTypeValidation, "schema has no fields")
	}
	out, err := toBigQuery(file.Fields, "")
	if err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeValidation, "invalid schema definition")
	}
	return out, nil
}

func toBigQuery(specs []FieldSpec, parent string) (bigquery.Schema, error) {
	out := make(bigquery.Schema, 0, len(specs))
	seen := make(map[string]bool, len(specs))

	for _, spec := range specs {
		path := spec.Name
		if parent != "" {
			path = parent + "." + spec.Name
		}
		if spec.Name == "" {
			return nil, fmt.Errorf("field under %q has no name", parent)
		}
		if seen[strings.ToLower(spec.Name)] {
			return nil, fmt.Errorf("duplicate field %q", path)
		}
		seen[strings.ToLower(spec.Name)] = true

		fieldType, err := parseType(spec.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", path, err)
		}

		field := &bigquery.FieldSchema{
			Name:        spec.Name,
			Type:        fieldType,
			Description: spec.Description,
		}
		switch strings.ToUpper(spec.Mode) {
		case "", "NULLABLE":
		case "REQUIRED":
			field.Required = true
		case "REPEATED":
			field.Repeated = true
		default:
			return nil, fmt.Errorf("field %q: unknown mode %q", path, spec.Mode)
		}

		if fieldType == bigquery.RecordFieldType {
			if len(spec.Fields) == 0 {
				return nil, fmt.Errorf("record field %q has no fields", path)
			}
			nested, err := toBigQuery(spec.Fields, path)
			if err != nil {
				return nil, err
			}
			field.Schema = nested
		} else if len(spec.Fields) > 0 {
			return nil, fmt.Errorf("field %q: only RECORD fields may have nested fields", path)
		}

		out = append(out, field)
	}
	return out, nil
}

var typeAliases = map[string]bigquery.FieldType{
	"STRING":     bigquery.StringFieldType,
	"BYTES":      bigquery.BytesFieldType,
	"INTEGER":    bigquery.IntegerFieldType,
	"INT64":      bigquery.IntegerFieldType,
	"FLOAT":      bigquery.FloatFieldType,
	"FLOAT64":    bigquery.FloatFieldType,
	"NUMERIC":    bigquery.NumericFieldType,
	"BIGNUMERIC": bigquery.BigNumericFieldType,
	"BOOLEAN":    bigquery.BooleanFieldType,
	"BOOL":       bigquery.BooleanFieldType,
	"TIMESTAMP":  bigquery.TimestampFieldType,
	"DATE":       bigquery.DateFieldType,
	"TIME":       bigquery.TimeFieldType,
	"DATETIME":   bigquery.DateTimeFieldType,
	"GEOGRAPHY":  bigquery.GeographyFieldType,
	"JSON":       bigquery.JSONFieldType,
	"RECORD":     bigquery.RecordFieldType,
	"STRUCT":     bigquery.RecordFieldType,
}

func parseType(raw string) (bigquery.FieldType, error) {
	if t, ok := typeAliases[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown type %q", raw)
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		content = content[:start] + os.Getenv(varName) + content[end+1:]
	}
	return content
}
