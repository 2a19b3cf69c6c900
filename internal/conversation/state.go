// Package conversation owns the per-session state machine.
//
// The machine is pure: it holds no session storage and performs no I/O.
// Given the current state, the detected intent, and a snapshot of which
// slots are bound, it selects the unique matching edge. When no edge
// matches it routes to StateFallback and reports a denied transition, which
// callers log but never surface to the user.
package conversation

// State enumerates the nine conversation states. The set is closed: every
// transition lands on one of these values.
type State string

const (
	StateGreeting         State = "GREETING"
	StateIntentGathering  State = "INTENT_GATHERING"
	StateVehicleSelection State = "VEHICLE_SELECTION"
	StateCategoryLookup   State = "CATEGORY_LOOKUP"
	StateArticleLookup    State = "ARTICLE_LOOKUP"
	StatePriceQuote       State = "PRICE_QUOTE"
	StateOrderStatus      State = "ORDER_STATUS"
	StateFAQResponse      State = "FAQ_RESPONSE"
	StateFallback         State = "FALLBACK"
)

// Initial is the state a session starts in.
const Initial = StateGreeting

// allStates is used by Valid and by tests asserting state-set closure.
var allStates = map[State]bool{
	StateGreeting:         true,
	StateIntentGathering:  true,
	StateVehicleSelection: true,
	StateCategoryLookup:   true,
	StateArticleLookup:    true,
	StatePriceQuote:       true,
	StateOrderStatus:      true,
	StateFAQResponse:      true,
	StateFallback:         true,
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool { return allStates[s] }

// States returns the full closed state set.
func States() []State {
	out := make([]State, 0, len(allStates))
	for s := range allStates {
		out = append(out, s)
	}
	return out
}
