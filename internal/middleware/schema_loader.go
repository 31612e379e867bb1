package middleware

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	contextutils "mcqgen/internal/utils"

	"github.com/xeipuuv/gojsonschema"
)

// Schema names of the embedded request documents
const (
	SchemaRegisterRequest          = "RegisterRequest"
	SchemaLoginRequest             = "LoginRequest"
	SchemaGenerateQuizRequest      = "GenerateQuizRequest"
	SchemaGenerateTopicQuizRequest = "GenerateTopicQuizRequest"
	SchemaSubmitQuizRequest        = "SubmitQuizRequest"
	SchemaCorpusImport             = "CorpusImport"
	SchemaExplainRequest           = "ExplainRequest"
	SchemaVerifyExplainRequest     = "VerifyExplainRequest"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// SchemaLoader holds compiled JSON schemas by name
type SchemaLoader struct {
	schemas map[string]*gojsonschema.Schema
}

// NewSchemaLoader creates a new schema loader
func NewSchemaLoader() *SchemaLoader {
	return &SchemaLoader{
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// LoadEmbeddedSchemas compiles every schema shipped with the binary. The
// file name without extension is the schema name.
func LoadEmbeddedSchemas() (*SchemaLoader, error) {
	sl := NewSchemaLoader()
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to read embedded schemas")
	}
	for _, entry := range entries {
		data, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, contextutils.WrapErrorf(err, "failed to read schema %s", entry.Name())
		}
		if err := sl.AddSchema(strings.TrimSuffix(entry.Name(), ".json"), data); err != nil {
			return nil, err
		}
	}
	return sl, nil
}

// MustLoadSchemas is LoadEmbeddedSchemas for program start up
func MustLoadSchemas() *SchemaLoader {
	sl, err := LoadEmbeddedSchemas()
	if err != nil {
		panic(err)
	}
	return sl
}

// AddSchema compiles raw and registers it under name
func (sl *SchemaLoader) AddSchema(name string, raw []byte) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to load schema %s", name)
	}
	sl.schemas[name] = schema
	return nil
}

// Names lists the registered schemas
func (sl *SchemaLoader) Names() []string {
	names := make([]string, 0, len(sl.schemas))
	for name := range sl.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateData validates data against a schema
func (sl *SchemaLoader) ValidateData(data interface{}, schemaName string) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return contextutils.WrapError(err, "failed to marshal data")
	}
	return sl.ValidateJSON(jsonData, schemaName)
}

// ValidateJSON validates a raw JSON document against a schema. A failed
// validation is reported as ErrValidationFailed listing every violation.
func (sl *SchemaLoader) ValidateJSON(raw []byte, schemaName string) error {
	schema, exists := sl.schemas[schemaName]
	if !exists {
		return contextutils.ErrorWithContextf("schema %s not found", schemaName)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "malformed JSON: %v", err)
	}

	if !result.Valid() {
		var validationErrors []string
		for _, validationErr := range result.Errors() {
			validationErrors = append(validationErrors, fmt.Sprintf("%s: %s", validationErr.Field(), validationErr.Description()))
		}
		return contextutils.WrapErrorf(contextutils.ErrValidationFailed, "schema validation failed: %s", strings.Join(validationErrors, "; "))
	}

	return nil
}
