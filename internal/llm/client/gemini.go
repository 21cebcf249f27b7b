package llmclient

import (
	"context"
	"errors"
	"net/http"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiConfig tunes how a GeminiClient reaches the API.
type GeminiConfig struct {
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL    string
	HTTPClient *http.Client
	// JSONResponse asks the model for application/json output.
	JSONResponse bool
	Temperature  *float32
}

// GeminiClient is a thin wrapper around the official genai client, bound to
// one API key. It only makes the call; retries, fallback and response
// validation live in the llm package.
type GeminiClient struct {
	cli *genai.Client
	cfg GeminiConfig
}

func NewGeminiClient(ctx context.Context, apiKey string, cfg GeminiConfig) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, &CallError{Kind: KindInvalidCredential, Message: "gemini api key is empty"}
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &GeminiClient{cli: cli, cfg: cfg}, nil
}

func (g *GeminiClient) Name() string { return "gemini" }

// Generate sends prompt as a single user turn.
func (g *GeminiClient) Generate(ctx context.Context, model, prompt string) (Completion, error) {
	if g == nil || g.cli == nil {
		return Completion{}, errors.New("gemini client is nil")
	}
	conf := &genai.GenerateContentConfig{Temperature: g.cfg.Temperature}
	if g.cfg.JSONResponse {
		conf.ResponseMIMEType = "application/json"
	}
	resp, err := g.cli.Models.GenerateContent(ctx, model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: prompt}}}},
		conf,
	)
	if err != nil {
		return Completion{}, err
	}
	return completionFrom(resp), nil
}

func completionFrom(resp *genai.GenerateContentResponse) Completion {
	if resp == nil {
		return Completion{}
	}
	out := Completion{Candidates: len(resp.Candidates)}
	if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" {
		out.BlockReason = string(pf.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return out
	}
	cand := resp.Candidates[0]
	out.FinishReason = string(cand.FinishReason)
	if cand.Content == nil {
		return out
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	out.Text = b.String()
	return out
}
