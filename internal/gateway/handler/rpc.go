package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"connectrpc.com/connect"

	"setupguide/internal/analyzer"
	"setupguide/internal/gateway/repository/session"
	"setupguide/internal/gateway/service/analysis"
	"setupguide/internal/guide"
)

const (
	GuideServiceName             = "setupguide.v1.GuideService"
	GuideServiceAnalyzeProcedure = "/" + GuideServiceName + "/Analyze"
)

// AnalyzeRequest is the Connect request message.
type AnalyzeRequest struct {
	Repo     string `json:"repo"`
	TargetOS string `json:"targetOs,omitempty"`
	Model    string `json:"model,omitempty"`
	// ModelKey and RepoToken override any session credentials.
	ModelKey  string `json:"modelKey,omitempty"`
	RepoToken string `json:"repoToken,omitempty"`
}

// AnalyzeResponse carries either a finished guide or a queued job id.
type AnalyzeResponse struct {
	JobID           string        `json:"jobId,omitempty"`
	Repo            string        `json:"repo,omitempty"`
	Model           string        `json:"model,omitempty"`
	Result          *guide.Result `json:"result,omitempty"`
	SelectedFiles   int           `json:"selectedFiles,omitempty"`
	FetchedFiles    int           `json:"fetchedFiles,omitempty"`
	EstimatedTokens int           `json:"estimatedTokens,omitempty"`
}

// JSONCodec lets Connect carry plain Go structs as JSON messages.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// NewGuideServiceHandler mounts the Analyze RPC; it returns the path prefix
// and handler in the shape http.ServeMux.Handle expects.
func NewGuideServiceHandler(h *Handler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)
	analyze := connect.NewUnaryHandler(GuideServiceAnalyzeProcedure, h.Analyze, opts...)
	mux := http.NewServeMux()
	mux.Handle(GuideServiceAnalyzeProcedure, analyze)
	return "/" + GuideServiceName + "/", mux
}

func (h *Handler) Analyze(ctx context.Context, req *connect.Request[AnalyzeRequest]) (*connect.Response[AnalyzeResponse], error) {
	msg := req.Msg
	in := analysis.Request{
		Repo:     strings.TrimSpace(msg.Repo),
		TargetOS: msg.TargetOS,
		Model:    msg.Model,
		Credentials: session.Credentials{
			ModelKey:  firstNonEmpty(msg.ModelKey, req.Header().Get(headerModelKey)),
			RepoToken: firstNonEmpty(msg.RepoToken, req.Header().Get(headerRepoToken)),
		},
		SessionID: sessionFromHeader(req.Header()),
		Client:    h.Clients.From(req.Header(), req.Peer().Addr),
	}
	out, err := h.svc.Analyze(ctx, in)
	if err != nil {
		cerr := connectError(err)
		setQuotaHeaders(cerr.Meta(), out.Quota)
		return nil, cerr
	}
	resp := connect.NewResponse(&AnalyzeResponse{})
	setQuotaHeaders(resp.Header(), out.Quota)
	if out.Job != nil {
		resp.Msg.JobID = out.Job.ID
		resp.Msg.Repo = out.Job.Repo
		return resp, nil
	}
	rep := out.Report
	resp.Msg.Repo = rep.Repo
	resp.Msg.Model = rep.Model
	resp.Msg.Result = &rep.Result
	resp.Msg.SelectedFiles = rep.Selected
	resp.Msg.FetchedFiles = rep.Fetched
	resp.Msg.EstimatedTokens = rep.TotalTokens
	return resp, nil
}

func connectError(err error) *connect.Error {
	if errors.Is(err, context.Canceled) {
		return connect.NewError(connect.CodeCanceled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	kind := analyzer.KindOf(err)
	if kind == "" {
		return connect.NewError(connect.CodeInternal, errors.New("unexpected error"))
	}
	_, body := describe(err)
	cerr := connect.NewError(codeFor(kind), errors.New(body.Message))
	cerr.Meta().Set("X-Error-Kind", string(kind))
	if body.Remediation != "" {
		cerr.Meta().Set("X-Remediation", body.Remediation)
	}
	if body.ResetAt != nil {
		cerr.Meta().Set("X-RateLimit-Reset", strconv.FormatInt(body.ResetAt.Unix(), 10))
	}
	return cerr
}

func sessionFromHeader(h http.Header) string {
	r := http.Request{Header: h}
	if c, err := r.Cookie(session.CookieName); err == nil {
		return c.Value
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
