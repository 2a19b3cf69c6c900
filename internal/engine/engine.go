// Package engine runs the per-turn conversation pipeline: quota gate, turn
// lock, session load, language check, directive decode, intent
// classification, state machine dispatch and persistence.
//
// A turn either fully succeeds or leaves the session untouched. Failures of
// external collaborators surface as retryable error directives or a generic
// apology with a correlation id; they never corrupt session state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/partsflow/partsflow/internal/conversation"
	"github.com/partsflow/partsflow/internal/directive"
	"github.com/partsflow/partsflow/internal/drilldown"
	"github.com/partsflow/partsflow/internal/fault"
	"github.com/partsflow/partsflow/internal/intent"
	"github.com/partsflow/partsflow/internal/language"
	"github.com/partsflow/partsflow/internal/metrics"
	"github.com/partsflow/partsflow/internal/ratelimit"
	"github.com/partsflow/partsflow/internal/retrieval"
	"github.com/partsflow/partsflow/internal/session"
)

// Outcome labels how a turn concluded, mirrored into the turns_total metric.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeInternal    Outcome = "internal_error"
)

// Request is one inbound turn.
type Request struct {
	SessionID  string
	CustomerID string
	Channel    string
	Language   string
	Message    string
}

// Result is the turn's reply.
type Result struct {
	SessionID string
	State     conversation.State
	Message   string
	Outcome   Outcome
	// RetryAfter is positive when Outcome is OutcomeRateLimited.
	RetryAfter time.Duration
	// CorrelationID identifies an internal failure in the logs.
	CorrelationID string
}

// Engine orchestrates one conversation turn end to end.
type Engine struct {
	limiter      *ratelimit.Limiter
	locks        *session.Locks
	store        *session.Store
	classifier   intent.Classifier
	machine      *conversation.Machine
	coordinator  *drilldown.Coordinator
	orchestrator *retrieval.Orchestrator
	langCoord    *language.Coordinator
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New creates an Engine.
func New(
	limiter *ratelimit.Limiter,
	store *session.Store,
	classifier intent.Classifier,
	machine *conversation.Machine,
	coordinator *drilldown.Coordinator,
	orchestrator *retrieval.Orchestrator,
	langCoord *language.Coordinator,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Engine{
		limiter:      limiter,
		locks:        session.NewLocks(),
		store:        store,
		classifier:   classifier,
		machine:      machine,
		coordinator:  coordinator,
		orchestrator: orchestrator,
		langCoord:    langCoord,
		metrics:      m,
		logger:       logger,
	}
}

// Turn processes one inbound message. The returned error is non-nil only for
// conditions the caller maps to a dedicated status: a concurrent turn
// (session.ErrTurnInFlight) or an ended session (session.ErrSessionEnded).
// Everything else, including internal failures, is reported in the Result.
func (e *Engine) Turn(ctx context.Context, req Request) (Result, error) {
	lang := language.Normalize(req.Language)

	decision, err := e.limiter.Check(ctx, req.CustomerID)
	if err != nil {
		return e.internalError(req.SessionID, lang, "", fmt.Errorf("rate limit check: %w", err)), nil
	}
	if !decision.Allowed {
		e.metrics.RateLimitRejections.Inc()
		e.metrics.TurnsTotal.WithLabelValues(string(OutcomeRateLimited)).Inc()
		return Result{
			SessionID:  req.SessionID,
			Message:    language.T(lang, "rate_limited"),
			Outcome:    OutcomeRateLimited,
			RetryAfter: decision.RetryAfter,
		}, nil
	}

	if err := e.locks.TryAcquire(req.SessionID); err != nil {
		return Result{}, err
	}
	defer e.locks.Release(req.SessionID)

	sess, err := e.store.GetOrCreate(ctx, req.SessionID, req.CustomerID, req.Channel, lang)
	if err != nil {
		return e.internalError(req.SessionID, lang, "", fmt.Errorf("load session: %w", err)), nil
	}
	if sess.Ended() {
		return Result{}, fmt.Errorf("session %s: %w", sess.ID, session.ErrSessionEnded)
	}

	// An explicit language on the request that differs from the session's
	// restarts the conversation in the new language.
	if req.Language != "" && lang != sess.Language {
		return e.switchLanguage(ctx, sess, lang)
	}

	result, err := e.process(ctx, sess, req.Message)
	if err != nil {
		if errors.Is(err, session.ErrSessionEnded) {
			return Result{}, err
		}
		return e.internalError(sess.ID, sess.Language, string(sess.State), err), nil
	}
	e.metrics.TurnsTotal.WithLabelValues(string(OutcomeSuccess)).Inc()
	return result, nil
}

// EndSession terminates a session and discards its drill-down cache.
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	if err := e.store.End(ctx, sessionID); err != nil {
		return err
	}
	e.coordinator.DropSession(sessionID)
	return nil
}

// process runs the turn once the gate, lock and session are in place.
func (e *Engine) process(ctx context.Context, sess *session.Session, message string) (Result, error) {
	decoded := directive.Decode(message)

	var (
		outbound  []directive.Directive
		text      string
		nextState = sess.State
	)

	if decoded.HasDirectives() {
		var err error
		outbound, text, nextState, err = e.dispatchDirectives(ctx, sess, decoded.Directives)
		if err != nil {
			return Result{}, err
		}
	} else {
		var err error
		outbound, text, nextState, err = e.dispatchText(ctx, sess, decoded.Text)
		if err != nil {
			return Result{}, err
		}
		if handled, result, err := e.handleTerminalIntents(ctx, sess); handled {
			return result, err
		}
	}

	reply, err := directive.Encode(outbound, text)
	if err != nil {
		return Result{}, fmt.Errorf("encode reply: %w", err)
	}

	sess.State = nextState
	sess.Touch(time.Now().UTC())
	if err := e.store.Put(ctx, sess); err != nil {
		return Result{}, err
	}
	if err := e.store.AppendMessages(ctx, sess.ID,
		session.Message{Role: session.RoleUser, Content: message},
		session.Message{Role: session.RoleAssistant, Content: reply},
	); err != nil {
		return Result{}, err
	}

	return Result{
		SessionID: sess.ID,
		State:     sess.State,
		Message:   reply,
		Outcome:   OutcomeSuccess,
	}, nil
}

// dispatchDirectives runs structured payloads through the drill-down
// coordinator in order. A failing step converts to an error directive and
// stops the batch; outbound ordering is preserved.
func (e *Engine) dispatchDirectives(ctx context.Context, sess *session.Session, inbound []directive.Directive) ([]directive.Directive, string, conversation.State, error) {
	var (
		outbound []directive.Directive
		texts    []string
		state    = sess.State
	)

	for _, d := range inbound {
		if !e.coordinator.Handles(d) {
			e.logger.Debug("ignoring non-drill-down directive", "kind", string(d.DirectiveKind()), "session_id", sess.ID)
			continue
		}
		out, err := e.coordinator.Handle(ctx, sess, d)
		if err != nil {
			outbound = append(outbound, e.stepErrorDirective(sess, err))
			break
		}
		outbound = append(outbound, out.Directives...)
		if out.Text != "" {
			texts = append(texts, out.Text)
		}
		if out.NextState != nil {
			state = *out.NextState
		}
	}

	text := ""
	for i, t := range texts {
		if i > 0 {
			text += "\n\n"
		}
		text += t
	}
	return outbound, text, state, nil
}

// stepErrorDirective maps a drill-down failure onto the retryable error
// directive shown to the client. The session state is left unchanged.
func (e *Engine) stepErrorDirective(sess *session.Session, err error) directive.Directive {
	kind := fault.Classify(err)
	step := fault.StepOf(err)

	var msgKey string
	switch kind {
	case fault.KindValidation:
		msgKey = "drilldown.out_of_order"
	case fault.KindInventoryFailed:
		msgKey = "inventory.check_failed"
	default:
		msgKey = "drilldown.step_failed"
	}

	e.logger.Warn("drill-down step failed",
		"session_id", sess.ID,
		"step", step,
		"kind", string(kind),
		"error", err,
	)
	return directive.Error{
		Message:   language.T(sess.Language, msgKey),
		CauseKind: string(kind),
		Step:      step,
	}
}

// dispatchText classifies a free-text utterance and advances the state
// machine.
func (e *Engine) dispatchText(ctx context.Context, sess *session.Session, utterance string) ([]directive.Directive, string, conversation.State, error) {
	classified, err := e.classifier.Classify(ctx, utterance)
	if err != nil {
		return nil, "", sess.State, fmt.Errorf("classify intent: %w", err)
	}
	in := classified.Intent
	sess.LastIntent = string(in)

	slots := e.slots(sess)
	transition := e.machine.Next(sess.State, in, slots)

	if conversation.AbnormalExit(transition.From, transition.To) {
		sess.Context.DrillDown = nil
		e.coordinator.DropSession(sess.ID)
	}

	var outbound []directive.Directive
	var text string

	switch {
	case conversation.EntersDrilldown(transition.From, transition.To) && transition.To == conversation.StateVehicleSelection:
		out, err := e.coordinator.OpenPicker(ctx, sess)
		if err != nil {
			outbound = append(outbound, e.stepErrorDirective(sess, err))
			return outbound, "", sess.State, nil
		}
		outbound = out.Directives
	case conversation.InDrilldown(transition.To):
		text = e.drilldownPrompt(sess, transition.To)
	default:
		history, err := e.store.History(ctx, sess.ID)
		if err != nil {
			return nil, "", sess.State, err
		}
		text, err = e.orchestrator.Respond(ctx, sess, in, utterance, history)
		if err != nil {
			return nil, "", sess.State, err
		}
	}

	return outbound, text, transition.To, nil
}

// handleTerminalIntents ends or resets the session after a goodbye or
// language-switch utterance. It runs after dispatchText so the intent label
// is already recorded.
func (e *Engine) handleTerminalIntents(ctx context.Context, sess *session.Session) (bool, Result, error) {
	switch intent.Intent(sess.LastIntent) {
	case intent.Goodbye:
		if err := e.EndSession(ctx, sess.ID); err != nil {
			return true, Result{}, err
		}
		e.metrics.TurnsTotal.WithLabelValues(string(OutcomeSuccess)).Inc()
		return true, Result{
			SessionID: sess.ID,
			State:     conversation.StateGreeting,
			Message:   language.T(sess.Language, "goodbye"),
			Outcome:   OutcomeSuccess,
		}, nil
	case intent.LanguageSwitch:
		target := language.EN
		if language.Normalize(sess.Language) == language.EN {
			target = language.ES
		}
		result, err := e.switchLanguage(ctx, sess, target)
		return true, result, err
	}
	return false, Result{}, nil
}

// switchLanguage performs the atomic language reset and replies with the
// greeting in the target language.
func (e *Engine) switchLanguage(ctx context.Context, sess *session.Session, target string) (Result, error) {
	e.coordinator.DropSession(sess.ID)
	greeting, err := e.langCoord.Reset(ctx, sess, target)
	if err != nil {
		if errors.Is(err, session.ErrSessionEnded) {
			return Result{}, err
		}
		return e.internalError(sess.ID, target, string(sess.State), err), nil
	}
	e.metrics.TurnsTotal.WithLabelValues(string(OutcomeSuccess)).Inc()
	return Result{
		SessionID: sess.ID,
		State:     sess.State,
		Message:   greeting,
		Outcome:   OutcomeSuccess,
	}, nil
}

func (e *Engine) slots(sess *session.Session) conversation.Slots {
	dd := sess.Context.DrillDown
	return conversation.Slots{
		VehicleBound:       sess.Context.Vehicle != nil,
		ArticleBound:       len(sess.Context.ArticleIDs) > 0,
		ChainComplete:      drilldown.ChainComplete(dd),
		CategoriesResolved: drilldown.CategoriesResolved(dd, e.coordinator.Depth()),
	}
}

// drilldownPrompt returns the canned copy shown when the user types free
// text while a structured sub-flow is active.
func (e *Engine) drilldownPrompt(sess *session.Session, state conversation.State) string {
	switch state {
	case conversation.StateVehicleSelection:
		return language.T(sess.Language, "vehicle.picker")
	case conversation.StateCategoryLookup:
		return language.T(sess.Language, "category.picker")
	default:
		return language.T(sess.Language, "quote.intro")
	}
}

// internalError builds the generic apology with a fresh correlation id. The
// session is left in its pre-turn state.
func (e *Engine) internalError(sessionID, lang, state string, err error) Result {
	correlationID := uuid.NewString()
	e.logger.Error("turn failed",
		"session_id", sessionID,
		"state", state,
		"correlation_id", correlationID,
		"error", err,
	)
	e.metrics.TurnsTotal.WithLabelValues(string(OutcomeInternal)).Inc()
	return Result{
		SessionID:     sessionID,
		Message:       language.Tf(lang, "error.generic", correlationID),
		Outcome:       OutcomeInternal,
		CorrelationID: correlationID,
	}
}
