package jsonutil

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// MarshalNoEscape encodes v without HTML escaping (so "a > b" stays
// readable) and without the encoder's trailing newline.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// A surrogate pair must be decoded together or both halves become U+FFFD.
var escapedUnicode = regexp.MustCompile(`\\u[dD][89abAB][0-9a-fA-F]{2}\\u[dD][c-fC-F][0-9a-fA-F]{2}|\\u[0-9a-fA-F]{4}`)

// UnmarshalFlex decodes raw into v, tolerating two habits of model output:
// an object delivered as a JSON string that itself holds JSON (unwrapped up
// to twice), and literal \uXXXX sequences left inside string values.
func UnmarshalFlex(raw []byte, v any) error {
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return err
	}
	for range 2 {
		s, ok := tree.(string)
		if !ok {
			break
		}
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			break
		}
		tree = inner
	}
	norm, err := MarshalNoEscape(unescapeAll(tree))
	if err != nil {
		return err
	}
	return json.Unmarshal(norm, v)
}

func unescapeAll(v any) any {
	switch x := v.(type) {
	case string:
		return unescape(x)
	case []any:
		for i := range x {
			x[i] = unescapeAll(x[i])
		}
		return x
	case map[string]any:
		for k, vv := range x {
			x[k] = unescapeAll(vv)
		}
		return x
	default:
		return v
	}
}

func unescape(s string) string {
	if !strings.Contains(s, `\u`) {
		return s
	}
	return escapedUnicode.ReplaceAllStringFunc(s, func(m string) string {
		var out string
		if err := json.Unmarshal([]byte(`"`+m+`"`), &out); err != nil {
			return m
		}
		return out
	})
}
