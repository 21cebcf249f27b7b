package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON means the text holds nothing that looks like a JSON object.
var ErrNoJSON = errors.New("jsonutil: no JSON object found")

var fenceRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_-]*)[ \\t]*\\r?\\n?(.*?)```")

// ExtractObject locates a JSON object in free-form model output. Candidate
// spans run from the first '{' to the last '}' of, in order: json-tagged
// fences, the remaining fences, then the whole text. The first candidate that
// is valid JSON wins.
func ExtractObject(text string) ([]byte, error) {
	spans := candidates(text)
	if len(spans) == 0 {
		return nil, ErrNoJSON
	}
	for _, span := range spans {
		if json.Valid([]byte(span)) {
			return []byte(span), nil
		}
	}
	return nil, fmt.Errorf("jsonutil: located span is not valid JSON: %w", invalidReason(spans[0]))
}

// DecodeObject extracts the object from text and decodes it into a map,
// tolerating double-escaped unicode.
func DecodeObject(text string) (map[string]any, error) {
	raw, err := ExtractObject(text)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := UnmarshalFlex(raw, &out); err != nil {
		return nil, fmt.Errorf("jsonutil: decode object: %w", err)
	}
	return out, nil
}

func candidates(text string) []string {
	var tagged, other []string
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		span, ok := braceSpan(m[2])
		if !ok {
			continue
		}
		if strings.EqualFold(m[1], "json") {
			tagged = append(tagged, span)
		} else {
			other = append(other, span)
		}
	}
	out := append(tagged, other...)
	if span, ok := braceSpan(text); ok {
		out = append(out, span)
	}
	return out
}

// braceSpan is the largest first-'{' to last-'}' span of s.
func braceSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func invalidReason(span string) error {
	var v any
	if err := json.Unmarshal([]byte(span), &v); err != nil {
		return err
	}
	return errors.New("invalid JSON")
}
