package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	genai "google.golang.org/genai"

	"setupguide/internal/tester"
)

type fakeNetErr struct{}

func (fakeNetErr) Error() string   { return "dial tcp: connection refused" }
func (fakeNetErr) Timeout() bool   { return false }
func (fakeNetErr) Temporary() bool { return true }

var _ net.Error = fakeNetErr{}

func TestClassifyAPIErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"bad key", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "API key not valid. Please pass a valid API key."}, KindInvalidCredential},
		{"unauthenticated", genai.APIError{Code: 401, Status: "UNAUTHENTICATED", Message: "Request had invalid authentication credentials."}, KindInvalidCredential},
		{"key forbidden", genai.APIError{Code: 403, Status: "PERMISSION_DENIED", Message: "Your API key was reported as leaked."}, KindInvalidCredential},
		{"model forbidden", genai.APIError{Code: 403, Status: "PERMISSION_DENIED", Message: "The caller does not have permission"}, KindModelUnavailable},
		{"model missing", genai.APIError{Code: 404, Status: "NOT_FOUND", Message: "models/gemini-9 is not found for API version v1beta"}, KindModelUnavailable},
		{"unsupported", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "model is not supported for generateContent"}, KindModelUnavailable},
		{"quota", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "You exceeded your current quota"}, KindRateLimited},
		{"overloaded", genai.APIError{Code: 503, Status: "UNAVAILABLE", Message: "The model is overloaded. Please try again later."}, KindTransient},
		{"internal", genai.APIError{Code: 500, Status: "INTERNAL", Message: "An internal error has occurred"}, KindTransient},
		{"pointer form", &genai.APIError{Code: 429, Message: "rate limit"}, KindRateLimited},
		{"wrapped", fmt.Errorf("call: %w", genai.APIError{Code: 502, Message: "bad gateway"}), KindTransient},
		{"bad request", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "Invalid JSON payload received."}, KindUnclassified},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ce := Classify("gemini-2.5-pro", tc.err)
			tester.Eq(t, ce.Kind, tc.want)
			tester.Eq(t, ce.Model, "gemini-2.5-pro")
		})
	}
}

func TestClassifyTransportErrors(t *testing.T) {
	tester.Eq(t, Classify("m", context.DeadlineExceeded).Kind, KindTimeout)
	tester.Eq(t, Classify("m", fmt.Errorf("post: %w", context.DeadlineExceeded)).Kind, KindTimeout)
	tester.Eq(t, Classify("m", fakeNetErr{}).Kind, KindTransient)
	tester.Eq(t, Classify("m", errors.New("upstream said: please try again")).Kind, KindTransient)
	tester.Eq(t, Classify("m", errors.New("something odd")).Kind, KindUnclassified)
	tester.True(t, Classify("m", nil) == nil)
}

func TestClassifyKeepsCallErrors(t *testing.T) {
	in := &CallError{Kind: KindBlocked, FinishReason: "SAFETY"}
	out := Classify("gemini-2.0-flash", fmt.Errorf("wrap: %w", in))
	tester.Eq(t, out.Kind, KindBlocked)
	tester.Eq(t, out.Model, "gemini-2.0-flash")
	tester.Eq(t, out.FinishReason, "SAFETY")
}

func TestCallErrorSentinels(t *testing.T) {
	err := fmt.Errorf("analyze: %w", &CallError{Kind: KindInvalidCredential, Model: "x", Message: "bad key"})
	tester.ErrIs(t, err, ErrInvalidCredential)
	tester.False(t, errors.Is(err, ErrRateLimited))

	ce := &CallError{Kind: KindRateLimited, Model: "gemini-2.5-pro", StatusCode: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}
	tester.Eq(t, ce.Error(), "rate-limited (gemini-2.5-pro) [429 RESOURCE_EXHAUSTED]: quota")
}
