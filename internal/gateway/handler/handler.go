// Package handler exposes the analysis service over plain HTTP JSON, a
// Connect RPC and a websocket job feed.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"setupguide/internal/analyzer"
	"setupguide/internal/gateway/middleware"
	"setupguide/internal/gateway/repository/artifact"
	"setupguide/internal/gateway/repository/job"
	"setupguide/internal/gateway/repository/session"
	"setupguide/internal/gateway/service/analysis"
	"setupguide/internal/gateway/service/worker"
)

const (
	headerModelKey  = "X-Gemini-Api-Key"
	headerRepoToken = "X-Github-Token"
	maxBodyBytes    = 64 << 10
)

type Handler struct {
	svc       *analysis.Service
	sessions  *session.Store
	hub       *worker.Hub
	artifacts artifact.Store
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
	// Clients names the caller that pooled-key quota is charged to.
	Clients middleware.ClientResolver
}

func New(svc *analysis.Service, sessions *session.Store, hub *worker.Hub, artifacts artifact.Store) *Handler {
	return &Handler{svc: svc, sessions: sessions, hub: hub, artifacts: artifacts}
}

type analyzeRequest struct {
	Repo     string `json:"repo"`
	TargetOS string `json:"targetOs,omitempty"`
	Model    string `json:"model,omitempty"`
}

type queuedResponse struct {
	JobID    string     `json:"jobId"`
	Status   job.Status `json:"status"`
	Location string     `json:"location"`
	Watch    string     `json:"watch"`
}

type jobResponse struct {
	job.Job
	GuideURL string `json:"guideUrl,omitempty"`
}

type sessionRequest struct {
	ModelKey  string `json:"modelKey"`
	RepoToken string `json:"repoToken"`
}

type sessionResponse struct {
	ExpiresAt    time.Time `json:"expiresAt"`
	HasModelKey  bool      `json:"hasModelKey"`
	HasRepoToken bool      `json:"hasRepoToken"`
}

func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var in analyzeRequest
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, &analyzer.Error{Kind: analyzer.KindInvalidReference, Message: "invalid json body", Err: err})
		return
	}
	out, err := h.svc.Analyze(r.Context(), h.request(r, in))
	setQuotaHeaders(w.Header(), out.Quota)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out.Job != nil {
		loc := "/api/jobs/" + out.Job.ID
		w.Header().Set("Location", loc)
		writeJSON(w, http.StatusAccepted, queuedResponse{
			JobID:    out.Job.ID,
			Status:   out.Job.Status,
			Location: loc,
			Watch:    loc + "/watch",
		})
		return
	}
	writeJSON(w, http.StatusOK, out.Report)
}

func (h *Handler) request(r *http.Request, in analyzeRequest) analysis.Request {
	req := analysis.Request{
		Repo:     strings.TrimSpace(in.Repo),
		TargetOS: in.TargetOS,
		Model:    in.Model,
		Credentials: session.Credentials{
			ModelKey:  strings.TrimSpace(r.Header.Get(headerModelKey)),
			RepoToken: strings.TrimSpace(r.Header.Get(headerRepoToken)),
		},
		Client: h.Clients.ID(r),
	}
	if c, err := r.Cookie(session.CookieName); err == nil {
		req.SessionID = c.Value
	}
	return req
}

func (h *Handler) HandleJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.svc.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := jobResponse{Job: j}
	if j.Status == job.StatusComplete && h.artifacts != nil {
		if u, err := h.artifacts.GetURL(r.Context(), j.ID, artifact.GuideName); err == nil {
			resp.GuideURL = u
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var in sessionRequest
	if err := decodeBody(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad-request", Message: "invalid json body"})
		return
	}
	creds := session.Credentials{ModelKey: strings.TrimSpace(in.ModelKey), RepoToken: strings.TrimSpace(in.RepoToken)}
	if creds.Empty() {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad-request", Message: "modelKey or repoToken is required"})
		return
	}
	if old, err := r.Cookie(session.CookieName); err == nil {
		_ = h.sessions.Delete(r.Context(), old.Value)
	}
	sess, err := h.sessions.Create(r.Context(), creds)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(h.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusCreated, sessionResponse{
		ExpiresAt:    sess.ExpiresAt,
		HasModelKey:  creds.ModelKey != "",
		HasRepoToken: creds.RepoToken != "",
	})
}

func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(session.CookieName); err == nil {
		if err := h.sessions.Delete(r.Context(), c.Value); err != nil {
			writeError(w, r, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth reports liveness; check, when set, must pass for a 200.
func HandleHealth(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}
