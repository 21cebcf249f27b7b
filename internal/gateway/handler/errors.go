package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"connectrpc.com/connect"

	"setupguide/internal/analyzer"
	"setupguide/internal/gateway/repository/job"
	"setupguide/internal/gateway/service/analysis"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Code        string     `json:"code"`
	Message     string     `json:"message"`
	ResetAt     *time.Time `json:"resetAt,omitempty"`
	Remediation string     `json:"remediation,omitempty"`
}

func statusFor(kind analyzer.Kind) int {
	switch kind {
	case analyzer.KindInvalidReference:
		return http.StatusBadRequest
	case analyzer.KindNotFound:
		return http.StatusNotFound
	case analyzer.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case analyzer.KindNoContent:
		return http.StatusUnprocessableEntity
	case analyzer.KindInvalidCredential:
		return http.StatusUnauthorized
	case analyzer.KindRateLimited:
		return http.StatusTooManyRequests
	case analyzer.KindModelsExhausted, analyzer.KindMalformedOutput:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func codeFor(kind analyzer.Kind) connect.Code {
	switch kind {
	case analyzer.KindInvalidReference:
		return connect.CodeInvalidArgument
	case analyzer.KindNotFound:
		return connect.CodeNotFound
	case analyzer.KindTooLarge, analyzer.KindNoContent:
		return connect.CodeFailedPrecondition
	case analyzer.KindInvalidCredential:
		return connect.CodeUnauthenticated
	case analyzer.KindRateLimited:
		return connect.CodeResourceExhausted
	case analyzer.KindModelsExhausted, analyzer.KindMalformedOutput:
		return connect.CodeUnavailable
	}
	return connect.CodeInternal
}

// describe flattens err into a status, a body and whether to log it.
func describe(err error) (int, errorBody) {
	switch {
	case errors.Is(err, job.ErrNotFound):
		return http.StatusNotFound, errorBody{Code: "not-found", Message: "job not found"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody{Code: "timeout", Message: "analysis timed out"}
	case errors.Is(err, context.Canceled):
		return 499, errorBody{Code: "canceled", Message: "request canceled"}
	}
	var ae *analyzer.Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError, errorBody{Code: "internal", Message: "unexpected error"}
	}
	body := errorBody{Code: string(ae.Kind), Message: ae.Error()}
	if !ae.ResetAt.IsZero() {
		reset := ae.ResetAt.UTC()
		body.ResetAt = &reset
	}
	if ae.Kind == analyzer.KindRateLimited || ae.Kind == analyzer.KindInvalidCredential {
		body.Remediation = analysis.Remediation()
	}
	return statusFor(ae.Kind), body
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := describe(err)
	if status >= 500 {
		log.Printf("handler: %s %s: %v", r.Method, r.URL.Path, err)
	}
	if body.ResetAt != nil {
		if wait := time.Until(*body.ResetAt); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func setQuotaHeaders(h http.Header, d *analysis.Decision) {
	if d == nil {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}
