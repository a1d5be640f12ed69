// internal/webhook/schema.go
//
// Envelope shape check.  Deliveries are validated against this schema
// before any field is trusted; everything after it can assume event,
// timestamp, and data exist with the right types.
package webhook

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const envelopeSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event", "timestamp", "data"],
  "properties": {
    "event":     {"type": "string", "minLength": 1},
    "timestamp": {"type": ["string", "integer", "number"]},
    "church_id": {"type": "string"},
    "data":      {"type": "object"}
  }
}`

var envelopeSchema = mustCompileEnvelope()

func mustCompileEnvelope() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchemaJSON))
	if err != nil {
		panic("webhook: envelope schema unreadable: " + err.Error())
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("webhook-envelope.json", doc); err != nil {
		panic("webhook: envelope schema rejected: " + err.Error())
	}
	s, err := c.Compile("webhook-envelope.json")
	if err != nil {
		panic("webhook: envelope schema does not compile: " + err.Error())
	}
	return s
}
