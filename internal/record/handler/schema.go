package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const signalSchemaURL = "https://pulseboard.local/schemas/signal-create.schema.json"

// rfc3339Pattern narrows date-time to what time.Parse accepts: upper-case T and Z,
// no leap second, and offsets below 24 hours.
const rfc3339Pattern = `^\\d{4}-\\d{2}-\\d{2}T([01]\\d|2[0-3]):[0-5]\\d:[0-5]\\d(\\.\\d+)?(Z|[+-]([01]\\d|2[0-3]):[0-5]\\d)$`

// signalSchema describes the body of POST /signals.
const signalSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "source"],
  "properties": {
    "type":      {"type": "string", "pattern": "\\S"},
    "source":    {"type": "string", "pattern": "\\S"},
    "data":      {"type": "object"},
    "timestamp": {"type": "string", "format": "date-time", "pattern": "` + rfc3339Pattern + `"}
  }
}`

func compileSignalSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(signalSchemaURL, strings.NewReader(signalSchema)); err != nil {
		return nil, fmt.Errorf("signal schema load failed: %w", err)
	}
	s, err := c.Compile(signalSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("signal schema compile failed: %w", err)
	}
	return s, nil
}

// schemaDetail reduces a schema violation to its most specific cause.
func schemaDetail(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "body"
	}
	return fmt.Sprintf("%s: %s", loc, ve.Message)
}
