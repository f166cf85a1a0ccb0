// Package payload recovers SMS text from the request bodies sent by mobile
// automation clients.
//
// Clients in the field send the message in several shapes:
//
//	{"message_body": "text"}                                plain
//	{"message_body": {"message_body": "text"}}              nested (one level)
//	{"message_body_b64": "dGV4dA==", "encoding": "base64"}  base64
//	{"message_body_b64": "text"}                            literal b64 field
//
// and occasionally emit JSON with raw newlines inside string values. Parse
// handles the last case with RepairJSON; Extract applies the shape rules in
// the order above.
package payload

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// Field names understood in request bodies.
const (
	FieldMessageBody    = "message_body"
	FieldMessageBodyB64 = "message_body_b64"
	FieldEncoding       = "encoding"
	FieldSender         = "sender"

	EncodingBase64 = "base64"
)

// ErrMissingMessageBody is returned when no path yields any text.
var ErrMissingMessageBody = errors.New("message_body is required")

// Path records which shape produced the text.
type Path string

const (
	PathPlain         Path = "plain"
	PathNested        Path = "nested"
	PathBase64        Path = "base64"
	PathBase64Literal Path = "base64_literal"
)

// Body is a parsed request body. Fields is never nil.
type Body struct {
	Fields map[string]any

	// Repaired is set when the body only parsed after RepairJSON.
	Repaired bool

	// Malformed is set when neither the raw nor the repaired body decoded to
	// a JSON object. Fields is empty in that case.
	Malformed bool

	// ParseError holds the first decode error, if any.
	ParseError error
}

// Result is the recovered message text and how it was found.
type Result struct {
	Text     string
	Path     Path
	Repaired bool
}

// Parse decodes raw into a Body, repairing unescaped control characters in
// string values when the first decode fails. A body that still cannot be
// decoded, or that decodes to something other than an object, yields an
// empty Body marked Malformed rather than an error.
func Parse(raw []byte) Body {
	fields, err := decodeObject(raw)
	if err == nil {
		return Body{Fields: fields}
	}

	body := Body{Fields: map[string]any{}, Malformed: true, ParseError: err}

	repaired, changed := RepairJSON(raw)
	if !changed {
		return body
	}
	fields, rerr := decodeObject(repaired)
	if rerr != nil {
		return body
	}
	return Body{Fields: fields, Repaired: true, ParseError: err}
}

func decodeObject(raw []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("body is not a JSON object")
	}
	return obj, nil
}

// String returns the field as a non-empty string.
func (b Body) String(key string) (string, bool) {
	s, ok := b.Fields[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Keys returns the top-level field names in sorted order.
func (b Body) Keys() []string {
	keys := make([]string, 0, len(b.Fields))
	for k := range b.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Extract recovers the message text from b. Only string values count as
// text: a message_body holding a number, array, or an object without an inner
// string falls through to the base64 fields.
func Extract(b Body) (Result, error) {
	res := Result{Repaired: b.Repaired}

	switch v := b.Fields[FieldMessageBody].(type) {
	case string:
		if v != "" {
			res.Text, res.Path = v, PathPlain
			return res, nil
		}
	case map[string]any:
		if inner, ok := v[FieldMessageBody].(string); ok && inner != "" {
			res.Text, res.Path = inner, PathNested
			return res, nil
		}
	}

	encoded, ok := b.String(FieldMessageBodyB64)
	if !ok {
		return res, ErrMissingMessageBody
	}

	if enc, _ := b.Fields[FieldEncoding].(string); enc == EncodingBase64 {
		text, err := DecodeBase64Text(encoded)
		if err != nil || text == "" {
			return res, ErrMissingMessageBody
		}
		res.Text, res.Path = text, PathBase64
		return res, nil
	}

	res.Text, res.Path = encoded, PathBase64Literal
	return res, nil
}

// DecodeBase64Text decodes s as UTF-8 text. Whitespace is ignored, padding is
// optional and the URL-safe alphabet is accepted. Invalid UTF-8 sequences are
// replaced with U+FFFD.
func DecodeBase64Text(s string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)

	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		decoded, err := enc.DecodeString(cleaned)
		if err == nil {
			return strings.ToValidUTF8(string(decoded), "\uFFFD"), nil
		}
		lastErr = err
	}
	return "", lastErr
}
