package bundle

import (
	"bytes"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/prasenjit/go-intercept/internal/models"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "bundle.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// Schema returns the compiled JSON schema bundle documents must satisfy
func Schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("failed to add bundle schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// SchemaDocument returns the raw bundle schema
func SchemaDocument() []byte {
	return append([]byte(nil), schemaJSON...)
}

// validateDocument checks a decoded document against the schema. Violations
// are reported as a ConfigError naming the offending item.
func validateDocument(doc any) error {
	schema, err := Schema()
	if err != nil {
		return err
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}

	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &models.ConfigError{Field: "document", Err: err}
	}

	leaf := firstLeaf(verr)
	return &models.ConfigError{
		ItemID: itemIDAt(doc, leaf.InstanceLocation),
		Field:  fieldAt(leaf.InstanceLocation),
		Err:    fmt.Errorf("%s", leaf.Message),
	}
}

// firstLeaf walks down to the most specific cause
func firstLeaf(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err
}

// itemIDAt resolves the id of the item a JSON pointer such as /items/3/status
// points into
func itemIDAt(doc any, location string) string {
	parts := strings.Split(strings.TrimPrefix(location, "/"), "/")
	if len(parts) < 2 || parts[0] != "items" {
		return ""
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil {
		return ""
	}

	root, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	items, ok := root["items"].([]any)
	if !ok || idx < 0 || idx >= len(items) {
		return ""
	}
	item, ok := items[idx].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := item["id"].(string)
	return id
}

// fieldAt converts a JSON pointer into a dotted field name
func fieldAt(location string) string {
	location = strings.TrimPrefix(location, "/")
	if location == "" {
		return "document"
	}
	return strings.ReplaceAll(location, "/", ".")
}
