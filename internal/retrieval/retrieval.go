// Package retrieval turns a free-text utterance into grounded assistant text.
//
// The orchestrator picks a grounding strategy from the conversation state and
// intent, assembles a bounded context block, generates a response and runs it
// through the safety validator. A rejected generation is retried once with a
// corrective instruction; a second rejection degrades to a canned safe
// response rather than passing unvalidated text through.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/partsflow/partsflow/internal/fault"
	"github.com/partsflow/partsflow/internal/intent"
	"github.com/partsflow/partsflow/internal/language"
	"github.com/partsflow/partsflow/internal/metrics"
	"github.com/partsflow/partsflow/internal/search"
	"github.com/partsflow/partsflow/internal/session"
)

// Strategy selects how a response is grounded.
type Strategy string

const (
	// StrategyNone answers from canned copy without the completion service.
	StrategyNone Strategy = "none"
	// StrategyStructured grounds on the session's bound vehicle, articles
	// and order context.
	StrategyStructured Strategy = "structured"
	// StrategyHybrid grounds on hybrid document retrieval.
	StrategyHybrid Strategy = "hybrid"
)

// Searcher is the retrieval contract the orchestrator consumes.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Hit, error)
}

// Orchestrator coordinates retrieval, generation and validation.
type Orchestrator struct {
	searcher   Searcher
	completion Completion
	validator  Validator
	maxContext int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewOrchestrator creates an Orchestrator. maxContext bounds the grounding
// block in characters.
func NewOrchestrator(searcher Searcher, completion Completion, validator Validator, maxContext int, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if maxContext <= 0 {
		maxContext = 4000
	}
	return &Orchestrator{
		searcher:   searcher,
		completion: completion,
		validator:  validator,
		maxContext: maxContext,
		metrics:    m,
		logger:     logger,
	}
}

// StrategyFor maps an intent to its grounding strategy.
func StrategyFor(in intent.Intent) Strategy {
	switch in {
	case intent.FAQ:
		return StrategyHybrid
	case intent.OrderStatus, intent.PriceQuote, intent.ProductSearch:
		return StrategyStructured
	default:
		return StrategyNone
	}
}

// Respond produces the assistant text for one free-text turn.
func (o *Orchestrator) Respond(ctx context.Context, sess *session.Session, in intent.Intent, utterance string, history []session.Message) (string, error) {
	strategy := StrategyFor(in)
	if strategy == StrategyNone {
		return cannedFor(sess.Language, in), nil
	}

	grounding, err := o.grounding(ctx, sess, strategy, utterance)
	if err != nil {
		return "", err
	}

	prompt := Prompt{
		System:    systemPrompt(sess.Language),
		Grounding: grounding,
		History:   toChatHistory(history),
		Utterance: utterance,
	}

	text, err := o.generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	if err := o.validate(ctx, text); err != nil {
		if fault.Classify(err) != fault.KindHallucination {
			return "", err
		}
		o.logger.Warn("generation rejected, retrying with corrective instruction",
			"session_id", sess.ID, "error", err)

		prompt.System += "\n\nYour previous answer was rejected for stating facts not present in the context. Answer again using only the provided context; say you don't know when the context is silent."
		text, err = o.generate(ctx, prompt)
		if err != nil {
			return "", err
		}
		if err := o.validate(ctx, text); err != nil {
			if fault.Classify(err) != fault.KindHallucination {
				return "", err
			}
			o.logger.Warn("regeneration rejected, degrading to safe response", "session_id", sess.ID)
			return language.T(sess.Language, "safety.fallback"), nil
		}
	}
	return text, nil
}

func (o *Orchestrator) generate(ctx context.Context, p Prompt) (string, error) {
	start := time.Now()
	text, err := o.completion.Generate(ctx, p)
	o.metrics.UpstreamDuration.WithLabelValues("completion").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("generate response: %w", err)
	}
	return text, nil
}

func (o *Orchestrator) validate(ctx context.Context, text string) error {
	start := time.Now()
	err := o.validator.Validate(ctx, text)
	o.metrics.UpstreamDuration.WithLabelValues("validator").Observe(time.Since(start).Seconds())
	return err
}

// grounding assembles the context block for the chosen strategy, truncated to
// maxContext characters.
func (o *Orchestrator) grounding(ctx context.Context, sess *session.Session, strategy Strategy, utterance string) (string, error) {
	var b strings.Builder

	if v := sess.Context.Vehicle; v != nil {
		fmt.Fprintf(&b, "Customer vehicle: %s %s %s (%s).\n", v.Manufacturer, v.ModelName, v.EngineName, v.Year)
	}
	if path := sess.Context.CategoryPath; len(path) > 0 {
		names := make([]string, 0, len(path))
		for _, ref := range path {
			if ref.Name != "" {
				names = append(names, ref.Name)
			}
		}
		if len(names) > 0 {
			fmt.Fprintf(&b, "Selected category: %s.\n", strings.Join(names, " > "))
		}
	}
	if ids := sess.Context.ArticleIDs; len(ids) > 0 {
		fmt.Fprintf(&b, "Selected article ids: %v.\n", ids)
	}

	if strategy == StrategyHybrid {
		start := time.Now()
		hits, err := o.searcher.Search(ctx, utterance)
		o.metrics.UpstreamDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())
		if err != nil {
			return "", fmt.Errorf("retrieve grounding documents: %w", err)
		}
		for _, hit := range hits {
			fmt.Fprintf(&b, "---\n%s\n", hit.Content)
		}
	}

	grounding := b.String()
	if len(grounding) > o.maxContext {
		grounding = grounding[:o.maxContext]
	}
	if grounding == "" {
		return "", nil
	}
	return "Context for this conversation:\n" + grounding, nil
}

func toChatHistory(history []session.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		out = append(out, ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func cannedFor(lang string, in intent.Intent) string {
	switch in {
	case intent.Greeting:
		return language.T(lang, "greeting")
	case intent.Goodbye:
		return language.T(lang, "goodbye")
	default:
		return language.T(lang, "fallback")
	}
}

func systemPrompt(lang string) string {
	if language.Normalize(lang) == language.EN {
		return "You are an auto parts assistant. Answer only from the provided context and conversation. Be concise and never invent part numbers, prices or stock levels."
	}
	return "Eres un asistente de repuestos de autos. Responde solo con el contexto y la conversación provistos. Sé conciso y nunca inventes números de parte, precios ni existencias."
}
