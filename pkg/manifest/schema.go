package manifest

import (
	"embed"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaFS contains the embedded lib.yaml JSON schema.
//
//go:embed schema/lib.schema.json
var SchemaFS embed.FS

const schemaFile = "schema/lib.schema.json"

// SchemaViolation is one structural problem found in a manifest.
type SchemaViolation struct {
	Field       string
	Description string
}

func (v SchemaViolation) String() string {
	return v.Field + ": " + v.Description
}

// Schema validates manifests against a JSON schema.
type Schema struct {
	schema *gojsonschema.Schema
}

// DefaultSchema compiles the embedded lib.yaml schema.
func DefaultSchema() (*Schema, error) {
	data, err := SchemaFS.ReadFile(schemaFile)
	if err != nil {
		return nil, fmt.Errorf("read embedded schema: %w", err)
	}

	return NewSchema(data)
}

// LoadSchema compiles the JSON schema stored at path.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}

	return NewSchema(data)
}

// NewSchema compiles a JSON schema document.
func NewSchema(data []byte) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Schema{schema: compiled}, nil
}

// Validate checks doc and returns every violation found.
// An empty result means the document conforms.
func (s *Schema) Validate(doc *Document) ([]SchemaViolation, error) {
	value, err := doc.Value()
	if err != nil {
		return nil, err
	}

	result, err := s.schema.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	violations := make([]SchemaViolation, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		violations = append(violations, SchemaViolation{
			Field:       verr.Field(),
			Description: verr.Description(),
		})
	}

	return violations, nil
}
