package conversation

import (
	"log/slog"

	"github.com/partsflow/partsflow/internal/intent"
)

// Slots is the snapshot of bound context the transition rule needs. The
// engine derives it from the session context; the machine itself never
// touches storage.
type Slots struct {
	// VehicleBound is true once a full vehicle is selected.
	VehicleBound bool
	// ArticleBound is true once at least one article is selected.
	ArticleBound bool
	// ChainComplete is true when the vehicle drill-down chain
	// (type, manufacturer, model, vehicle) is fully resolved.
	ChainComplete bool
	// CategoriesResolved is true when the configured number of category
	// levels have all been chosen.
	CategoriesResolved bool
}

// Transition is the outcome of one edge selection.
type Transition struct {
	From State
	To   State
	// Denied is set when no edge matched and the machine routed to
	// FALLBACK. Logged, never user-visible.
	Denied bool
}

// Machine selects transitions. It is stateless and safe for concurrent use.
type Machine struct {
	logger *slog.Logger
}

// NewMachine creates a Machine.
func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{logger: logger}
}

// routing states treat the next utterance as a fresh intent.
func isRoutingState(s State) bool {
	switch s {
	case StateGreeting, StateIntentGathering, StatePriceQuote,
		StateOrderStatus, StateFAQResponse, StateFallback:
		return true
	}
	return false
}

// InDrilldown reports whether s is one of the structured sub-flow states
// that own a drill-down context.
func InDrilldown(s State) bool {
	return s == StateVehicleSelection || s == StateCategoryLookup || s == StateArticleLookup
}

// Next selects the unique edge for (current, intent, slots). When no edge
// matches, it returns a denied transition to StateFallback.
func (m *Machine) Next(current State, in intent.Intent, slots Slots) Transition {
	if !current.Valid() {
		// Corrupt stored state; recover through FALLBACK.
		m.logger.Warn("invalid stored state", "state", string(current))
		return Transition{From: current, To: StateFallback, Denied: true}
	}

	if to, ok := m.selectEdge(current, in, slots); ok {
		return Transition{From: current, To: to}
	}

	m.logger.Info("state transition denied",
		"state", string(current),
		"intent", string(in),
		"vehicle_bound", slots.VehicleBound,
		"article_bound", slots.ArticleBound,
	)
	return Transition{From: current, To: StateFallback, Denied: true}
}

func (m *Machine) selectEdge(current State, in intent.Intent, slots Slots) (State, bool) {
	// Intent switches that are valid from anywhere.
	switch in {
	case intent.OrderStatus:
		return StateOrderStatus, true
	case intent.FAQ:
		return StateFAQResponse, true
	case intent.Goodbye, intent.LanguageSwitch:
		// The engine ends or resets the session; the machine lands on
		// the initial state either way.
		return StateGreeting, true
	}

	if isRoutingState(current) {
		switch in {
		case intent.Greeting:
			if current == StateGreeting {
				return StateGreeting, true
			}
			return StateIntentGathering, true
		case intent.ProductSearch, intent.PriceQuote:
			switch {
			case slots.VehicleBound && slots.ArticleBound:
				return StatePriceQuote, true
			case slots.VehicleBound:
				return StateCategoryLookup, true
			default:
				return StateVehicleSelection, true
			}
		case intent.Unknown:
			if current == StateFallback {
				// FALLBACK always has an edge back to intent gathering.
				return StateIntentGathering, true
			}
			return "", false
		}
		return "", false
	}

	// Structured sub-flow states: self-loop while incomplete, advance on
	// completion, allow explicit restart of the search.
	switch current {
	case StateVehicleSelection:
		switch in {
		case intent.ProductSearch, intent.Unknown, intent.PriceQuote:
			if slots.ChainComplete {
				return StateCategoryLookup, true
			}
			return StateVehicleSelection, true
		case intent.Greeting:
			return StateVehicleSelection, true
		}
	case StateCategoryLookup:
		switch in {
		case intent.ProductSearch, intent.Unknown, intent.PriceQuote:
			if slots.CategoriesResolved {
				return StateArticleLookup, true
			}
			return StateCategoryLookup, true
		case intent.Greeting:
			return StateCategoryLookup, true
		}
	case StateArticleLookup:
		switch in {
		case intent.ProductSearch, intent.PriceQuote, intent.Unknown:
			if slots.ArticleBound {
				return StatePriceQuote, true
			}
			return StateArticleLookup, true
		case intent.Greeting:
			return StateArticleLookup, true
		}
	}

	return "", false
}

// AbnormalExit reports whether moving from one state to another abandons an
// unfinished drill-down, in which case the engine discards its context.
func AbnormalExit(from, to State) bool {
	return InDrilldown(from) && !InDrilldown(to)
}

// EntersDrilldown reports whether the transition enters a structured
// sub-flow that needs a drill-down context initialized.
func EntersDrilldown(from, to State) bool {
	return !InDrilldown(from) && (to == StateVehicleSelection || to == StateCategoryLookup)
}
