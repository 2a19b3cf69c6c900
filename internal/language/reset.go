package language

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/partsflow/partsflow/internal/conversation"
	"github.com/partsflow/partsflow/internal/session"
)

// Coordinator performs the single atomic language-switch operation: clear
// the accumulated context (including any unfinished drill-down), set the new
// language tag, return the session to the initial state, and produce a
// greeting in the target language.
type Coordinator struct {
	store  *session.Store
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store *session.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, logger: logger}
}

// Reset switches the session to lang and returns the greeting to send. The
// session is mutated and persisted in one step; chat history is cleared so
// the conversation restarts cleanly in the new language.
func (c *Coordinator) Reset(ctx context.Context, sess *session.Session, lang string) (string, error) {
	target := Normalize(lang)
	c.logger.Info("language reset",
		"session_id", sess.ID,
		"from", sess.Language,
		"to", target,
	)

	sess.Language = target
	sess.State = conversation.Initial
	sess.LastIntent = ""
	sess.Context = session.Context{}
	sess.Touch(time.Now().UTC())

	if err := c.store.Put(ctx, sess); err != nil {
		return "", fmt.Errorf("persist language reset: %w", err)
	}
	if err := c.store.ClearHistory(ctx, sess.ID); err != nil {
		return "", fmt.Errorf("clear history on language reset: %w", err)
	}

	return T(target, "language.changed") + "\n\n" + T(target, "greeting"), nil
}
