package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is a command sent to the orchestrator or relayed to a device.
type Envelope struct {
	ReqID      string         `json:"req_id"`
	Actor      string         `json:"actor"`
	TS         string         `json:"ts"`
	Action     string         `json:"action"`
	Params     map[string]any `json:"params"`
	ReplyTo    string         `json:"reply_to,omitempty"`
	TTLSeconds int            `json:"ttl_s,omitempty"`

	// Raw holds the bytes the envelope was parsed from, so pass-through
	// commands can be forwarded unchanged.
	Raw json.RawMessage `json:"-"`
}

// ParseEnvelope decodes and validates an inbound command.
//
// Validation failures wrap ErrBadRequest. The returned envelope still carries
// the req_id whenever one could be read, so the caller can address its ack.
// Missing optional fields are defaulted: actor to "app", params to an empty
// map, ts to the current time.
func ParseEnvelope(payload []byte) (Envelope, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Envelope{}, fmt.Errorf("%w: malformed JSON: %v", ErrBadRequest, err)
	}

	schema, err := envelopeValidator()
	if err != nil {
		return Envelope{}, fmt.Errorf("compiling envelope schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Envelope{ReqID: reqIDOf(doc)}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{ReqID: reqIDOf(doc)}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	env.normalise()
	env.Raw = append(json.RawMessage(nil), payload...)

	return env, nil
}

// EnsureReqID returns payload with a non-empty req_id, assigning newID()
// when the field is absent, null or empty. Payloads that already carry one
// are returned unchanged. Anything but a JSON object, or a req_id that is
// not a string, wraps ErrBadRequest.
func EnsureReqID(payload []byte, newID func() string) ([]byte, string, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil || doc == nil {
		return nil, "", fmt.Errorf("%w: envelope must be a JSON object", ErrBadRequest)
	}

	switch id := doc["req_id"].(type) {
	case string:
		if id != "" {
			return payload, id, nil
		}
	case nil:
	default:
		return nil, "", fmt.Errorf("%w: req_id must be a string", ErrBadRequest)
	}

	id := newID()
	doc["req_id"] = id
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return out, id, nil
}

// normalise fills optional fields with their defaults.
func (e *Envelope) normalise() {
	if e.Actor == "" {
		e.Actor = DefaultActor
	}
	if e.Params == nil {
		e.Params = map[string]any{}
	}
	if e.TS == "" {
		e.TS = Now()
	}
}

// Payload returns the bytes to publish for this envelope: the original bytes
// when it was parsed from the wire, otherwise its JSON encoding.
func (e Envelope) Payload() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	return json.Marshal(e)
}

// DeviceID returns params.device_id when present and non-empty.
func (e Envelope) DeviceID() (string, bool) {
	return StringParam(e.Params, "device_id")
}

func reqIDOf(doc any) string {
	m, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := m["req_id"].(string)
	return id
}

// PeekReqID reads req_id from a payload without validating anything else.
// It returns "" when the payload is not an object with a string req_id.
func PeekReqID(payload []byte) string {
	var probe struct {
		ReqID any `json:"req_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	id, _ := probe.ReqID.(string)
	return id
}
