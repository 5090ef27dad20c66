package api

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// batchSchema is the structural contract for POST /v1/sync/batches. Requests
// failing it are rejected as malformed before the ingestion service runs.
const batchSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["batch_id", "stream", "device_id", "assembled_at"],
  "properties": {
    "batch_id": {"type": "string", "minLength": 1},
    "stream": {"type": "string", "minLength": 1},
    "device_id": {"type": "string", "minLength": 1},
    "assembled_at": {"type": "string"},
    "deletions": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "records": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source_name", "start_time", "end_time"],
        "properties": {
          "source_name": {"type": "string", "minLength": 1},
          "start_time": {"type": "string"},
          "end_time": {"type": "string"},
          "value_numeric": {"type": "number"},
          "value_text": {"type": "string"},
          "unit": {"type": "string"},
          "metadata": {"type": "object", "additionalProperties": {"type": "string"}}
        }
      }
    },
    "workouts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["activity_type", "source_name", "start_time", "end_time", "duration_seconds"],
        "properties": {
          "activity_type": {"type": "string", "minLength": 1},
          "source_name": {"type": "string", "minLength": 1},
          "start_time": {"type": "string"},
          "end_time": {"type": "string"},
          "duration_seconds": {"type": "number", "minimum": 0}
        }
      }
    }
  },
  "not": {"required": ["records", "workouts"]}
}`

func compileBatchSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(batchSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("batch.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("batch.json")
}
