package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const PayloadField = "payload"

var ErrDecode = errors.New("payload decode failed")

// ErrDuplicatePayload marks an envelope that names the payload field more
// than once. Readers disagree on which value wins, so such a message is
// never matched against a filter.
var ErrDuplicatePayload = errors.New("envelope repeats the payload field")

type DecodeError struct {
	Stage string // "envelope", "encoding" or "json"
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("payload decode failed at %s: %v", e.Stage, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Envelope is a raw wire message with its payload located. Only the payload
// value is rewritten; every other byte is kept as received unless the
// payload key is repeated or escaped.
type Envelope struct {
	raw         []byte
	payload     string
	occurrences int
	escapedKey  bool
}

func ParseEnvelope(raw []byte) (Envelope, error) {
	if !gjson.ValidBytes(raw) {
		return Envelope{}, &DecodeError{Stage: "envelope", Cause: errors.New("message is not valid JSON")}
	}

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Envelope{}, &DecodeError{Stage: "envelope", Cause: errors.New("message is not a JSON object")}
	}

	var payload gjson.Result
	occurrences := 0
	escapedKey := false
	root.ForEach(func(key, value gjson.Result) bool {
		if key.String() == PayloadField {
			occurrences++
			payload = value
			escapedKey = escapedKey || key.Raw != `"`+PayloadField+`"`
		}
		return true
	})
	if occurrences == 0 {
		return Envelope{}, &DecodeError{Stage: "envelope", Cause: errors.New("message has no payload field")}
	}

	env := Envelope{raw: raw, payload: payload.String(), occurrences: occurrences, escapedKey: escapedKey}
	if occurrences > 1 {
		return env, fmt.Errorf("%w: %d occurrences", ErrDuplicatePayload, occurrences)
	}
	if payload.Type != gjson.String {
		return Envelope{}, &DecodeError{Stage: "envelope", Cause: fmt.Errorf("payload is %s, not a string", payload.Type)}
	}
	return env, nil
}

func (e Envelope) Raw() []byte { return e.raw }

func (e Envelope) Payload() string { return e.payload }

// WithPayload returns the envelope bytes with the payload value replaced.
// An envelope with a repeated or escaped payload key is rebuilt with a
// single plain one.
func (e Envelope) WithPayload(payload string) ([]byte, error) {
	if e.occurrences > 1 || e.escapedKey {
		return e.collapsePayload(payload)
	}
	out, err := sjson.SetBytes(e.raw, PayloadField, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to replace payload: %w", err)
	}
	return out, nil
}

func (e Envelope) collapsePayload(payload string) ([]byte, error) {
	value, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to replace payload: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	written := false
	first := true
	gjson.ParseBytes(e.raw).ForEach(func(key, v gjson.Result) bool {
		isPayload := key.String() == PayloadField
		if isPayload && written {
			return true
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if isPayload {
			buf.WriteString(`"` + PayloadField + `":`)
			buf.Write(value)
			written = true
		} else {
			buf.WriteString(key.Raw)
			buf.WriteByte(':')
			buf.WriteString(v.Raw)
		}
		return true
	})
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// PayloadCodec moves documents between their decoded form and the envelope
// payload wire form.
type PayloadCodec struct {
	encoding Encoding
	redacted string
}

func New(encoding Encoding) *PayloadCodec {
	if encoding == nil {
		encoding = Base64{}
	}
	c := &PayloadCodec{encoding: encoding}
	// An empty map always marshals.
	c.redacted, _ = c.Encode(map[string]interface{}{})
	return c
}

func (c *PayloadCodec) Encoding() Encoding { return c.encoding }

// Decode parses the envelope, reverses the payload encoding and parses the
// result as JSON.
func (c *PayloadCodec) Decode(raw []byte) (interface{}, Envelope, error) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return nil, env, err
	}

	doc, err := c.DecodePayload(env.Payload())
	if err != nil {
		return nil, env, err
	}
	return doc, env, nil
}

func (c *PayloadCodec) DecodePayload(payload string) (interface{}, error) {
	data, err := c.encoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Stage: "encoding", Cause: err}
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &DecodeError{Stage: "json", Cause: err}
	}
	return doc, nil
}

// Encode serializes doc into the payload wire form.
func (c *PayloadCodec) Encode(doc interface{}) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.encoding.EncodeToString(data), nil
}

// Redact returns the encoded empty object. It never looks at any payload.
func (c *PayloadCodec) Redact() string {
	return c.redacted
}

func (c *PayloadCodec) Passthrough(env Envelope) string {
	return env.Payload()
}
