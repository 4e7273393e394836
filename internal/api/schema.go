package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxFeedBody bounds ingestion request bodies.
const MaxFeedBody = 1 << 20

const rosterSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["agents"],
  "additionalProperties": false,
  "properties": {
    "agents": {
      "type": "array",
      "maxItems": 5000,
      "items": {
        "type": "object",
        "required": ["agentId"],
        "properties": {
          "agentId":    {"type": "string", "minLength": 1, "maxLength": 128},
          "ownerLabel": {"type": "string", "maxLength": 128}
        }
      }
    }
  }
}`

const chestSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["x", "y", "visible"],
  "anyOf": [
    {"required": ["id"]},
    {"required": ["source"]}
  ],
  "properties": {
    "id":      {"type": "string", "minLength": 1, "maxLength": 256},
    "source":  {"type": "string", "minLength": 1, "maxLength": 128},
    "x":       {"type": "number"},
    "y":       {"type": "number"},
    "visible": {"type": "boolean"},
    "reward": {
      "type": ["object", "null"],
      "required": ["kind"],
      "properties": {
        "kind": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var (
	rosterSchema = jsonschema.MustCompileString("roster.schema.json", rosterSchemaJSON)
	chestSchema  = jsonschema.MustCompileString("chest.schema.json", chestSchemaJSON)
)

// decodeValidated reads a JSON body, validates it against schema, then
// decodes it into dst.
func decodeValidated(body io.Reader, schema *jsonschema.Schema, dst interface{}) error {
	raw, err := io.ReadAll(io.LimitReader(body, MaxFeedBody+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(raw) > MaxFeedBody {
		return fmt.Errorf("body exceeds %d bytes", MaxFeedBody)
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
