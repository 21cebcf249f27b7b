package llm

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	llmclient "setupguide/internal/llm/client"
	"setupguide/internal/tester"
)

// fast fake generator that returns immediately
var fastGen = llmclient.GeneratorFunc(func(context.Context, string, string) (llmclient.Completion, error) {
	return llmclient.Completion{Candidates: 1, FinishReason: "STOP", Text: "{}"}, nil
})

// spy records timestamps when requests reach the inner generator
type spy struct {
	mu    sync.Mutex
	times []time.Time
}

func (s *spy) wrap(next llmclient.Generator) llmclient.Generator {
	return llmclient.GeneratorFunc(func(ctx context.Context, model, prompt string) (llmclient.Completion, error) {
		s.mu.Lock()
		s.times = append(s.times, time.Now())
		s.mu.Unlock()
		return next.Generate(ctx, model, prompt)
	})
}

func TestRate_RPS_2PerSecond_Burst1_Spacing(t *testing.T) {
	rec := &spy{}
	gen := Wrap(fastGen, RateLimit(2, 1), rec.wrap)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := gen.Generate(ctx, "m", "p"); err != nil {
			t.Fatal(err)
		}
	}
	elapsed := time.Since(start)

	tester.True(t, elapsed >= 450*time.Millisecond, "expected throttling >=450ms, got %v", elapsed)
	tester.Eq(t, len(rec.times), 2, "two calls should reach inner generator")
}

func TestRate_RPS_2PerSecond_Burst2_FirstTwoImmediate(t *testing.T) {
	gen := RateLimit(2, 2)(fastGen)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := gen.Generate(ctx, "m", "p"); err != nil {
			t.Fatal(err)
		}
	}
	firstTwo := time.Since(start)

	start3 := time.Now()
	if _, err := gen.Generate(ctx, "m", "p"); err != nil {
		t.Fatal(err)
	}
	third := time.Since(start3)

	tester.True(t, firstTwo < 100*time.Millisecond, "first two should be near-instant, got %v", firstTwo)
	tester.True(t, third >= 450*time.Millisecond, "third call expected throttling >=450ms, got %v", third)
}

func TestRateDisabledAndCancelled(t *testing.T) {
	tester.True(t, newRPSLimiter(0, 5) == nil)
	var nilLimiter *rpsLimiter
	tester.NoErr(t, nilLimiter.Acquire(context.Background()))

	l := newRPSLimiter(1, 1)
	tester.NoErr(t, l.Acquire(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	tester.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestRateRefillsFromClock(t *testing.T) {
	now := time.Unix(0, 0)
	l := newRPSLimiter(1, 2)
	l.now = func() time.Time { return now }
	l.last = now

	tester.Eq(t, l.reserve(), time.Duration(0))
	tester.Eq(t, l.reserve(), time.Duration(0))
	tester.Eq(t, l.reserve(), time.Second)
	now = now.Add(3 * time.Second)
	// two tokens back at most, one of them already owed
	tester.Eq(t, l.reserve(), time.Duration(0))
}

func TestCatalogRateLimitPerModel(t *testing.T) {
	cat := llmclient.NewCatalog()
	tester.NoErr(t, cat.RegisterModel(llmclient.ModelRegistration{Model: "slow", RateLimit: &llmclient.RateLimitConfig{RPS: 2, Burst: 1}}))
	tester.NoErr(t, cat.RegisterModel(llmclient.ModelRegistration{Model: "free"}))
	gen := CatalogRateLimit(cat)(fastGen)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := gen.Generate(ctx, "free", "p")
		tester.NoErr(t, err)
	}
	_, err := gen.Generate(ctx, "slow", "p")
	tester.NoErr(t, err)
	tester.True(t, time.Since(start) < 100*time.Millisecond, "unlimited model must not wait")

	start = time.Now()
	_, err = gen.Generate(ctx, "slow", "p")
	tester.NoErr(t, err)
	tester.True(t, time.Since(start) >= 450*time.Millisecond)
}

func TestWithLoggingRecordsErrors(t *testing.T) {
	var buf bytes.Buffer
	boom := llmclient.GeneratorFunc(func(context.Context, string, string) (llmclient.Completion, error) {
		return llmclient.Completion{}, errors.New("boom")
	})
	gen := WithLogging(log.New(&buf, "", 0))(boom)
	_, err := gen.Generate(context.Background(), "gemini-2.5-pro", "hello")
	tester.True(t, err != nil)
	out := buf.String()
	tester.True(t, strings.Contains(out, "llm: request gemini-2.5-pro: 5 bytes"), out)
	tester.True(t, strings.Contains(out, "llm: error gemini-2.5-pro: boom"), out)
}
