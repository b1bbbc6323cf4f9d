package rag

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/guildsage/guildsage/ai"
	"github.com/guildsage/guildsage/ai/metrics"
	"github.com/guildsage/guildsage/ai/vector"
	"github.com/guildsage/guildsage/store"
)

// Answer outcomes.
const (
	OutcomeAnswered  = "answered"
	OutcomeNoContext = "no_context"
)

// Question is a natural-language question with optional scoping.
type Question struct {
	Text string `json:"text"`

	// ChannelID restricts retrieval to one channel when set.
	ChannelID string `json:"channel_id,omitempty"`

	// PostedAfter restricts retrieval to messages posted at or after this
	// unix millisecond timestamp when positive.
	PostedAfter int64 `json:"posted_after,omitempty"`

	// Filter is a CEL expression over message fields that matched messages
	// must satisfy to anchor an excerpt.
	Filter string `json:"filter,omitempty"`

	// TopK overrides the configured hit count when positive.
	TopK int `json:"top_k,omitempty"`
}

// Answer is the outcome of asking a question. An empty context is a valid
// outcome, not an error: Outcome is no_context and no LLM call was made.
type Answer struct {
	Outcome  string           `json:"outcome"`
	Text     string           `json:"text,omitempty"`
	Excerpts []*Excerpt       `json:"excerpts"`
	Stats    *ai.LLMCallStats `json:"stats,omitempty"`
}

// ChatService is the LLM capability the answerer needs. Implemented by
// ai.LLMService.
type ChatService interface {
	Chat(ctx context.Context, messages []ai.Message) (string, *ai.LLMCallStats, error)
}

// AnswererConfig configures question answering.
type AnswererConfig struct {
	// TopK is how many vector hits to retrieve. Defaults to 8.
	TopK int

	// MinScore drops hits scoring below it.
	MinScore float32

	// MaxRetries is how many times a transient search or LLM failure is
	// retried before giving up. Defaults to 2.
	MaxRetries int

	// RetryBackoff overrides the classifier-suggested delay between retries
	// when positive. Mainly for tests.
	RetryBackoff time.Duration

	// LLMModel labels token metrics. Informational only.
	LLMModel string

	// Metrics receives answer metrics when set.
	Metrics *metrics.PrometheusExporter
}

// Answerer turns questions into grounded answers: search, assemble lineage
// context, build the prompt, call the LLM. Transient failures of the index
// or the LLM are retried with backoff; everything else fails fast.
type Answerer struct {
	indexer   *Indexer
	assembler *Assembler
	store     *store.Store
	llm       ChatService
	metrics   *metrics.PrometheusExporter

	topK         int
	minScore     float32
	maxRetries   int
	retryBackoff time.Duration
	llmModel     string
}

// NewAnswerer creates a new Answerer.
func NewAnswerer(indexer *Indexer, assembler *Assembler, s *store.Store, llm ChatService, cfg *AnswererConfig) *Answerer {
	if cfg == nil {
		cfg = &AnswererConfig{}
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 8
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = 2
	}
	return &Answerer{
		indexer:      indexer,
		assembler:    assembler,
		store:        s,
		llm:          llm,
		metrics:      cfg.Metrics,
		topK:         topK,
		minScore:     cfg.MinScore,
		maxRetries:   maxRetries,
		retryBackoff: cfg.RetryBackoff,
		llmModel:     cfg.LLMModel,
	}
}

// Ask answers a question from the indexed history.
func (an *Answerer) Ask(ctx context.Context, q *Question) (*Answer, error) {
	startTime := time.Now()
	answer, err := an.ask(ctx, q)

	if an.metrics != nil {
		outcome := "error"
		if err == nil {
			outcome = answer.Outcome
		}
		an.metrics.RecordAnswer(outcome, time.Since(startTime))
		if err == nil && answer.Stats != nil {
			an.metrics.RecordLLMTokens(an.llmModel, "prompt", answer.Stats.PromptTokens)
			an.metrics.RecordLLMTokens(an.llmModel, "completion", answer.Stats.CompletionTokens)
		}
	}
	if err != nil {
		return nil, err
	}

	slog.Info("question answered",
		"outcome", answer.Outcome,
		"excerpts", len(answer.Excerpts),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return answer, nil
}

func (an *Answerer) ask(ctx context.Context, q *Question) (*Answer, error) {
	if q == nil || strings.TrimSpace(q.Text) == "" {
		return nil, errors.New("question text is required")
	}

	filter, err := CompileFilter(q.Filter)
	if err != nil {
		return nil, err
	}

	topK := an.topK
	if q.TopK > 0 {
		topK = q.TopK
	}

	var hits []vector.Hit
	err = an.withRetry(ctx, "search", func() error {
		var searchErr error
		hits, searchErr = an.indexer.Search(ctx, q.Text, &SearchOptions{
			Limit:       topK,
			ChannelID:   q.ChannelID,
			PostedAfter: q.PostedAfter,
			MinScore:    an.minScore,
		})
		return searchErr
	})
	if err != nil {
		return nil, err
	}

	if filter != nil {
		hits, err = an.filterHits(ctx, hits, filter)
		if err != nil {
			return nil, err
		}
	}

	excerpts, err := an.assembler.Assemble(ctx, hits)
	if err != nil {
		return nil, err
	}

	if len(excerpts) == 0 {
		return &Answer{Outcome: OutcomeNoContext, Excerpts: []*Excerpt{}}, nil
	}

	messages := BuildAnswerMessages(q.Text, excerpts)

	var content string
	var stats *ai.LLMCallStats
	err = an.withRetry(ctx, "chat", func() error {
		var chatErr error
		content, stats, chatErr = an.llm.Chat(ctx, messages)
		return chatErr
	})
	if err != nil {
		return nil, err
	}

	return &Answer{
		Outcome:  OutcomeAnswered,
		Text:     content,
		Excerpts: excerpts,
		Stats:    stats,
	}, nil
}

func (an *Answerer) filterHits(ctx context.Context, hits []vector.Hit, filter *MessageFilter) ([]vector.Hit, error) {
	kept := hits[:0]
	for _, hit := range hits {
		msg, err := an.store.GetMessage(ctx, hit.MessageID)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			continue
		}
		matched, err := filter.Match(msg)
		if err != nil {
			return nil, err
		}
		if matched {
			kept = append(kept, hit)
		}
	}
	return kept, nil
}

// withRetry runs fn, retrying transient failures with a growing delay.
func (an *Answerer) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt >= an.maxRetries {
			break
		}
		if !errors.Is(err, vector.ErrUnavailable) && !ai.ShouldRetry(err) {
			break
		}

		delay := an.retryBackoff
		if delay <= 0 {
			delay = ai.GetRetryDelay(err)
		}
		if delay <= 0 {
			delay = 2 * time.Second
		}
		delay *= time.Duration(attempt + 1)

		slog.Warn("transient failure, retrying",
			"op", op,
			"attempt", attempt+1,
			"max_retries", an.maxRetries,
			"delay", delay,
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
