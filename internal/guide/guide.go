// Package guide defines the setup guide returned to users and the prompt
// that asks a model to write it.
package guide

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"setupguide/internal/util/jsonutil"
)

// Placeholder fills required text fields the model left out.
const Placeholder = "Not specified"

// Result is the structured setup guide. Required strings are never empty
// and lists are never nil once a Result has been through Normalize.
type Result struct {
	ProjectOverview    string   `json:"projectOverview"`
	Prerequisites      []string `json:"prerequisites"`
	SetupSteps         []string `json:"setupSteps"`
	RunInstructions    string   `json:"runInstructions"`
	ConfigurationNotes string   `json:"configurationNotes"`
	Troubleshooting    string   `json:"troubleshooting"`
	OSSpecificNotes    string   `json:"osSpecificNotes,omitempty"`
}

// Parse extracts the JSON object from raw model output and normalizes it.
func Parse(text string) (Result, error) {
	obj, err := jsonutil.DecodeObject(text)
	if err != nil {
		return Result{}, err
	}
	return Normalize(obj), nil
}

// Normalize maps a decoded object onto Result. Missing or falsy strings get
// Placeholder; list fields that are not arrays become empty.
func Normalize(obj map[string]any) Result {
	return Result{
		ProjectOverview:    text(obj["projectOverview"]),
		Prerequisites:      list(obj["prerequisites"]),
		SetupSteps:         list(obj["setupSteps"]),
		RunInstructions:    text(obj["runInstructions"]),
		ConfigurationNotes: text(obj["configurationNotes"]),
		Troubleshooting:    text(obj["troubleshooting"]),
		OSSpecificNotes:    optional(obj["osSpecificNotes"]),
	}
}

func text(v any) string {
	if s := stringify(v); s != "" {
		return s
	}
	return Placeholder
}

func optional(v any) string { return stringify(v) }

func list(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(arr))
	for _, it := range arr {
		if s := stringify(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// stringify renders falsy values as "".
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case bool:
		if !x {
			return ""
		}
		return "true"
	case float64:
		if x == 0 {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case []any:
		parts := make([]string, 0, len(x))
		for _, it := range x {
			if s := stringify(it); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		raw, err := jsonutil.MarshalNoEscape(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		if s := string(raw); s != "{}" {
			return s
		}
		return ""
	}
}
