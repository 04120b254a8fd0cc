// Package orchestrator asks the language model to classify an inbound SMS and
// draft a reply, and normalizes whatever it returns into a strict result.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"guesthouse-sms-agent/internal/domain"
)

// ChatClient sends a prompt to the model and returns the raw completion text.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type Input struct {
	Text       string
	GuestState string
	History    []domain.Message
	Knowledge  []domain.KnowledgeEntry
	Intents    []domain.IntentDefinition
}

type Orchestrator struct {
	llm    ChatClient
	model  string
	logger *slog.Logger
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New returns an Orchestrator. An empty model is accepted; every
// classification then degrades to the fallback.
func New(llm ChatClient, model string, opts ...Option) (*Orchestrator, error) {
	if llm == nil {
		return nil, errors.New("orchestrator: llm client must not be nil")
	}
	o := &Orchestrator{llm: llm, model: strings.TrimSpace(model), logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Classify never fails. Transport errors and malformed output both yield
// the fallback result with NeedFollowup set.
func (o *Orchestrator) Classify(ctx context.Context, in Input) domain.OrchestrationResult {
	if o.model == "" {
		o.logger.WarnContext(ctx, "llm model not configured, using fallback")
		return Fallback()
	}

	raw, err := o.llm.Chat(ctx, o.model, buildPromptMessages(in))
	if err != nil {
		attrs := []any{"err", err, "model", o.model}
		var sc httpStatusCoder
		if errors.As(err, &sc) {
			attrs = append(attrs, "status", sc.HTTPStatusCode())
		}
		o.logger.ErrorContext(ctx, "llm call failed, using fallback", attrs...)
		return Fallback()
	}

	res, ok := Normalize(raw)
	if !ok {
		o.logger.WarnContext(ctx, "llm returned malformed output, using fallback", "raw_len", len(raw))
	}
	return res
}
