package validate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Record types accepted by the ingest pipeline.
const (
	TypeSecurityEvent   = "security_event"
	TypeThreatIndicator = "threat_indicator"
	TypeNetworkPacket   = "network_packet"
	TypeUserBehavior    = "user_behavior"
)

var recordTypes = []string{
	TypeSecurityEvent,
	TypeThreatIndicator,
	TypeNetworkPacket,
	TypeUserBehavior,
}

// SchemaValidator validates ingested payloads against the JSON schemas
// shipped in the schemas directory, one per record type.
type SchemaValidator struct {
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
	mu      sync.RWMutex
}

// NewSchemaValidator compiles all record schemas from schemaDir.
func NewSchemaValidator(schemaDir string, logger *slog.Logger) (*SchemaValidator, error) {
	schemas, err := compileSchemas(schemaDir)
	if err != nil {
		return nil, err
	}

	logger.Info("Schema validator initialized", "schema_dir", schemaDir, "schemas", len(schemas))

	return &SchemaValidator{
		schemas: schemas,
		logger:  logger,
	}, nil
}

// Validate checks a raw JSON payload against the schema for its record
// type. Unknown record types and malformed JSON are validation errors.
func (v *SchemaValidator) Validate(recordType string, payload []byte) error {
	v.mu.RLock()
	schema, ok := v.schemas[recordType]
	v.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown record type %q", recordType)
	}

	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ReloadSchemas recompiles all schemas from disk.
func (v *SchemaValidator) ReloadSchemas(schemaDir string) error {
	schemas, err := compileSchemas(schemaDir)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.schemas = schemas
	v.mu.Unlock()

	v.logger.Info("Schemas reloaded", "schema_dir", schemaDir)
	return nil
}

func compileSchemas(schemaDir string) (map[string]*jsonschema.Schema, error) {
	schemas := make(map[string]*jsonschema.Schema, len(recordTypes))

	for _, recordType := range recordTypes {
		schemaPath := filepath.Join(schemaDir, recordType+".json")
		data, err := os.ReadFile(schemaPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file %s: %w", schemaPath, err)
		}

		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		resource := recordType + ".json"
		if err := compiler.AddResource(resource, strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("failed to add schema resource %s: %w", resource, err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", resource, err)
		}
		schemas[recordType] = schema
	}

	return schemas, nil
}
