package llmclient

import "context"

// Completion is the provider-neutral view of one generateContent response.
type Completion struct {
	// Candidates is the number of candidates the provider returned.
	Candidates int
	// FinishReason of the first candidate, verbatim ("STOP", "SAFETY", ...).
	FinishReason string
	// Text is the first candidate's text.
	Text string
	// BlockReason is set when the prompt itself was rejected.
	BlockReason string
}

// Generator issues a single prompt to a single model. It does not retry and
// does not judge the completion; both are the caller's job.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (Completion, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, model, prompt string) (Completion, error)

func (f GeneratorFunc) Generate(ctx context.Context, model, prompt string) (Completion, error) {
	return f(ctx, model, prompt)
}

// Source resolves the Generator that speaks for a credential.
type Source interface {
	Client(ctx context.Context, credential string) (Generator, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, credential string) (Generator, error)

func (f SourceFunc) Client(ctx context.Context, credential string) (Generator, error) {
	return f(ctx, credential)
}
