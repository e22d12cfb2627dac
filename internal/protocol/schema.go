package protocol

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const envelopeSchemaURL = "labhost://schemas/envelope.json"

// envelopeSchema is the wire contract for inbound command envelopes.
const envelopeSchema = `{
  "type": "object",
  "required": ["req_id", "action"],
  "properties": {
    "req_id":   {"type": "string", "minLength": 1},
    "actor":    {"type": ["string", "null"]},
    "ts":       {"type": ["string", "null"]},
    "action":   {"type": "string", "minLength": 1},
    "params":   {"type": ["object", "null"]},
    "reply_to": {"type": ["string", "null"]},
    "ttl_s":    {"type": ["integer", "null"], "minimum": 0}
  }
}`

var (
	compiledEnvelope    *jsonschema.Schema
	compiledEnvelopeErr error
	compileEnvelopeOnce sync.Once
)

// envelopeValidator returns the compiled envelope schema.
func envelopeValidator() (*jsonschema.Schema, error) {
	compileEnvelopeOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(envelopeSchemaURL, strings.NewReader(envelopeSchema)); err != nil {
			compiledEnvelopeErr = err
			return
		}
		compiledEnvelope, compiledEnvelopeErr = c.Compile(envelopeSchemaURL)
	})
	return compiledEnvelope, compiledEnvelopeErr
}
