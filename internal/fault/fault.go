// Package fault defines the error taxonomy shared across the conversation
// engine.
//
// Every failure that crosses a package boundary is classified as one of the
// Kind values below. Callers branch on kind with Classify or errors.Is rather
// than matching error strings. A Fault additionally carries the correlation id
// that is surfaced to the user on unrecoverable errors, and the name of the
// upstream step that failed (drill-down retries depend on it).
package fault

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies a failure.
type Kind string

const (
	// KindValidation marks a malformed directive or an out-of-range id.
	KindValidation Kind = "validation_error"

	// KindUpstreamTimeout marks a catalog, inventory, completion or
	// validator call that exceeded its deadline.
	KindUpstreamTimeout Kind = "upstream_timeout"

	// KindRateLimited marks a turn rejected by the quota gate.
	KindRateLimited Kind = "rate_limit_exceeded"

	// KindTransitionDenied marks a turn with no matching state-machine edge.
	// Absorbed internally by routing to FALLBACK; never shown to the user.
	KindTransitionDenied Kind = "state_transition_denied"

	// KindHallucination marks generated text the safety validator rejected.
	KindHallucination Kind = "hallucination_rejected"

	// KindNoStock marks a legitimate empty-inventory outcome. Not an error
	// in the operational sense, but modeled here so callers cannot confuse
	// it with KindInventoryFailed.
	KindNoStock Kind = "no_stock_available"

	// KindInventoryFailed marks a failed batch inventory call, distinct
	// from all items being legitimately out of stock.
	KindInventoryFailed Kind = "inventory_check_failed"

	// KindInternal is the catch-all for unclassified failures.
	KindInternal Kind = "internal_error"
)

// Sentinel errors for errors.Is checks. New wraps these, so both
// errors.Is(err, fault.ErrNoStock) and Classify(err) == fault.KindNoStock work.
var (
	ErrValidation       = errors.New("validation error")
	ErrUpstreamTimeout  = errors.New("upstream timeout")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrTransitionDenied = errors.New("state transition denied")
	ErrHallucination    = errors.New("hallucination rejected")
	ErrNoStock          = errors.New("no stock available")
	ErrInventoryFailed  = errors.New("inventory check failed")
)

var sentinels = map[Kind]error{
	KindValidation:       ErrValidation,
	KindUpstreamTimeout:  ErrUpstreamTimeout,
	KindRateLimited:      ErrRateLimited,
	KindTransitionDenied: ErrTransitionDenied,
	KindHallucination:    ErrHallucination,
	KindNoStock:          ErrNoStock,
	KindInventoryFailed:  ErrInventoryFailed,
}

// Fault is a classified error with optional step and correlation metadata.
type Fault struct {
	kind        Kind
	step        string // failing upstream step, e.g. "manufacturers"
	correlation string
	msg         string
	cause       error
}

// New creates a Fault of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a Fault of the given kind around an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Fault {
	return &Fault{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// WithStep annotates the fault with the name of the failing step.
func (f *Fault) WithStep(step string) *Fault {
	f.step = step
	return f
}

// WithCorrelation attaches a correlation id, generating one if empty.
func (f *Fault) WithCorrelation(id string) *Fault {
	if id == "" {
		id = uuid.NewString()
	}
	f.correlation = id
	return f
}

// Kind returns the fault's classification.
func (f *Fault) Kind() Kind { return f.kind }

// Step returns the failing upstream step name, if any.
func (f *Fault) Step() string { return f.step }

// Correlation returns the attached correlation id, if any.
func (f *Fault) Correlation() string { return f.correlation }

func (f *Fault) Error() string {
	if f.cause != nil {
		return f.msg + ": " + f.cause.Error()
	}
	return f.msg
}

func (f *Fault) Unwrap() error {
	if f.cause != nil {
		return f.cause
	}
	if s, ok := sentinels[f.kind]; ok {
		return s
	}
	return nil
}

// Is lets errors.Is match a Fault against its kind sentinel even when the
// fault wraps another cause.
func (f *Fault) Is(target error) bool {
	if s, ok := sentinels[f.kind]; ok && target == s {
		return true
	}
	return false
}

// Classify returns the Kind of err. Non-Fault errors map to KindInternal,
// except sentinel matches which keep their kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// CorrelationOf extracts a correlation id from err, or "" if absent.
func CorrelationOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.correlation
	}
	return ""
}

// StepOf extracts the failing step name from err, or "" if absent.
func StepOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.step
	}
	return ""
}
