package codec

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Encoding converts payload bytes to and from their wire form.
type Encoding interface {
	Name() string
	EncodeToString(src []byte) string
	DecodeString(s string) ([]byte, error)
}

const (
	EncodingBase64 = "base64"
	EncodingRaw    = "raw"
)

func EncodingByName(name string) (Encoding, error) {
	switch strings.ToLower(name) {
	case "", EncodingBase64:
		return Base64{}, nil
	case EncodingRaw:
		return Raw{}, nil
	default:
		return nil, fmt.Errorf("unknown payload encoding %q (supported: base64, raw)", name)
	}
}

// Base64 is standard base64 that decodes leniently: ASCII whitespace is
// ignored and trailing padding is optional. Encoding always pads.
type Base64 struct{}

func (Base64) Name() string { return EncodingBase64 }

func (Base64) EncodeToString(src []byte) string {
	return base64.StdEncoding.EncodeToString(src)
}

func (Base64) DecodeString(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\f', '\r':
			return -1
		}
		return r
	}, s)

	if len(cleaned)%4 == 0 {
		cleaned = strings.TrimSuffix(cleaned, "=")
		cleaned = strings.TrimSuffix(cleaned, "=")
	}
	if len(cleaned)%4 == 1 {
		return nil, fmt.Errorf("invalid base64 length %d", len(cleaned))
	}

	return base64.RawStdEncoding.DecodeString(cleaned)
}

// Raw carries the JSON document text as the payload itself.
type Raw struct{}

func (Raw) Name() string { return EncodingRaw }

func (Raw) EncodeToString(src []byte) string { return string(src) }

func (Raw) DecodeString(s string) ([]byte, error) { return []byte(s), nil }
