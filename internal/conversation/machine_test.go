package conversation

import (
	"testing"

	"github.com/partsflow/partsflow/internal/intent"
	"github.com/partsflow/partsflow/internal/log"
)

var allIntents = []intent.Intent{
	intent.ProductSearch, intent.OrderStatus, intent.FAQ, intent.PriceQuote,
	intent.Greeting, intent.Goodbye, intent.LanguageSwitch, intent.Unknown,
}

var allSlots = []Slots{
	{},
	{VehicleBound: true},
	{VehicleBound: true, ArticleBound: true},
	{ChainComplete: true},
	{VehicleBound: true, ChainComplete: true},
	{VehicleBound: true, ChainComplete: true, CategoriesResolved: true},
	{VehicleBound: true, ChainComplete: true, CategoriesResolved: true, ArticleBound: true},
}

// Every (state, intent, slots) combination must land on a valid state; the
// machine is closed over its state set.
func TestNextIsClosedOverStates(t *testing.T) {
	m := NewMachine(log.NewNop())
	for _, from := range States() {
		for _, in := range allIntents {
			for _, slots := range allSlots {
				tr := m.Next(from, in, slots)
				if !tr.To.Valid() {
					t.Errorf("Next(%s, %s, %+v) = %q, not a valid state", from, in, slots, tr.To)
				}
				if tr.From != from {
					t.Errorf("Next(%s, %s) reported From = %s", from, in, tr.From)
				}
			}
		}
	}
}

func TestInvalidStoredStateRecoversThroughFallback(t *testing.T) {
	m := NewMachine(log.NewNop())
	tr := m.Next(State("CORRUPt"), intent.Greeting, Slots{})
	if !tr.Denied || tr.To != StateFallback {
		t.Errorf("transition = %+v, want denied fallback", tr)
	}
}

func TestProductSearchRouting(t *testing.T) {
	m := NewMachine(log.NewNop())
	cases := []struct {
		name  string
		slots Slots
		want  State
	}{
		{"no vehicle", Slots{}, StateVehicleSelection},
		{"vehicle only", Slots{VehicleBound: true}, StateCategoryLookup},
		{"vehicle and article", Slots{VehicleBound: true, ArticleBound: true}, StatePriceQuote},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := m.Next(StateGreeting, intent.ProductSearch, tc.slots)
			if tr.Denied || tr.To != tc.want {
				t.Errorf("transition = %+v, want %s", tr, tc.want)
			}
		})
	}
}

func TestGlobalIntentsFromAnyState(t *testing.T) {
	m := NewMachine(log.NewNop())
	for _, from := range States() {
		if tr := m.Next(from, intent.OrderStatus, Slots{}); tr.To != StateOrderStatus || tr.Denied {
			t.Errorf("OrderStatus from %s = %+v", from, tr)
		}
		if tr := m.Next(from, intent.FAQ, Slots{}); tr.To != StateFAQResponse || tr.Denied {
			t.Errorf("FAQ from %s = %+v", from, tr)
		}
		if tr := m.Next(from, intent.Goodbye, Slots{}); tr.To != StateGreeting || tr.Denied {
			t.Errorf("Goodbye from %s = %+v", from, tr)
		}
	}
}

func TestDrilldownSelfLoopsAndAdvances(t *testing.T) {
	m := NewMachine(log.NewNop())

	if tr := m.Next(StateVehicleSelection, intent.Unknown, Slots{}); tr.To != StateVehicleSelection || tr.Denied {
		t.Errorf("incomplete chain = %+v, want self-loop", tr)
	}
	if tr := m.Next(StateVehicleSelection, intent.Unknown, Slots{ChainComplete: true}); tr.To != StateCategoryLookup {
		t.Errorf("complete chain = %+v, want %s", tr, StateCategoryLookup)
	}
	if tr := m.Next(StateCategoryLookup, intent.Unknown, Slots{}); tr.To != StateCategoryLookup || tr.Denied {
		t.Errorf("unresolved categories = %+v, want self-loop", tr)
	}
	if tr := m.Next(StateCategoryLookup, intent.Unknown, Slots{CategoriesResolved: true}); tr.To != StateArticleLookup {
		t.Errorf("resolved categories = %+v, want %s", tr, StateArticleLookup)
	}
	if tr := m.Next(StateArticleLookup, intent.Unknown, Slots{ArticleBound: true}); tr.To != StatePriceQuote {
		t.Errorf("article bound = %+v, want %s", tr, StatePriceQuote)
	}
}

func TestUnknownIntentDeniedOutsideFallback(t *testing.T) {
	m := NewMachine(log.NewNop())
	tr := m.Next(StateGreeting, intent.Unknown, Slots{})
	if !tr.Denied || tr.To != StateFallback {
		t.Errorf("transition = %+v, want denied fallback", tr)
	}
}

func TestFallbackAlwaysEscapesToIntentGathering(t *testing.T) {
	m := NewMachine(log.NewNop())
	tr := m.Next(StateFallback, intent.Unknown, Slots{})
	if tr.Denied || tr.To != StateIntentGathering {
		t.Errorf("transition = %+v, want %s", tr, StateIntentGathering)
	}
}

func TestAbnormalExitDetection(t *testing.T) {
	if !AbnormalExit(StateVehicleSelection, StateOrderStatus) {
		t.Error("leaving a drill-down for order status must be abnormal")
	}
	if AbnormalExit(StateVehicleSelection, StateCategoryLookup) {
		t.Error("advancing within the drill-down is not abnormal")
	}
	if AbnormalExit(StateGreeting, StateFAQResponse) {
		t.Error("routing between plain states is not abnormal")
	}
}

func TestEntersDrilldown(t *testing.T) {
	if !EntersDrilldown(StateGreeting, StateVehicleSelection) {
		t.Error("greeting to vehicle selection enters the drill-down")
	}
	if EntersDrilldown(StateVehicleSelection, StateCategoryLookup) {
		t.Error("moving within the drill-down does not re-enter it")
	}
}
