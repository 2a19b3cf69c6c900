// Package drilldown coordinates the dependent multi-step catalog lookup:
// vehicle type → manufacturer → model → vehicle → category levels →
// articles.
//
// The chain is strictly ordered. Step k may not execute until every
// ancestor is resolved in the session's drill-down context, and clearing a
// link invalidates everything after it. Guard violations are validation
// errors and never mutate state.
package drilldown

import (
	"github.com/partsflow/partsflow/internal/fault"
	"github.com/partsflow/partsflow/internal/session"
)

// Step identifies one link of the drill-down pipeline, in dependency order.
type Step int

const (
	StepVehicleTypes Step = iota
	StepManufacturers
	StepModels
	StepVehicles
	StepCategories
	StepArticles
)

var stepNames = map[Step]string{
	StepVehicleTypes:  "vehicle-types",
	StepManufacturers: "manufacturers",
	StepModels:        "models",
	StepVehicles:      "vehicles",
	StepCategories:    "categories",
	StepArticles:      "articles",
}

func (s Step) String() string { return stepNames[s] }

func denied(step Step, format string, args ...any) error {
	return fault.New(fault.KindValidation, format, args...).WithStep(step.String())
}

// requireLink checks that an ancestor id is recorded and matches the id the
// request carries. A mismatch means the client is drilling into a branch
// the session never resolved.
func requireLink(step Step, recorded *int64, carried int64, name string) error {
	if recorded == nil {
		return denied(step, "step %s requested before %s was resolved", step, name)
	}
	if *recorded != carried {
		return denied(step, "step %s carries %s=%d but session resolved %d", step, name, carried, *recorded)
	}
	return nil
}

// resolveType records the chosen vehicle type, invalidating everything
// below it.
func resolveType(dd *session.DrillDown, typeID int64) {
	if dd.VehicleTypeID == nil || *dd.VehicleTypeID != typeID {
		truncateBelow(dd, StepVehicleTypes)
	}
	dd.VehicleTypeID = &typeID
}

func resolveManufacturer(dd *session.DrillDown, id int64) {
	if dd.ManufacturerID == nil || *dd.ManufacturerID != id {
		truncateBelow(dd, StepManufacturers)
	}
	dd.ManufacturerID = &id
}

func resolveModel(dd *session.DrillDown, id int64) {
	if dd.ModelID == nil || *dd.ModelID != id {
		truncateBelow(dd, StepModels)
	}
	dd.ModelID = &id
}

func resolveVehicle(dd *session.DrillDown, id int64) {
	if dd.VehicleID == nil || *dd.VehicleID != id {
		truncateBelow(dd, StepVehicles)
	}
	dd.VehicleID = &id
}

// truncateBelow clears every link after step, preserving the invariant that
// an id is only meaningful when all its ancestors are set.
func truncateBelow(dd *session.DrillDown, step Step) {
	if step < StepManufacturers {
		dd.ManufacturerID = nil
	}
	if step < StepModels {
		dd.ModelID = nil
	}
	if step < StepVehicles {
		dd.VehicleID = nil
	}
	if step < StepCategories {
		dd.CategoryPath = nil
	}
	if step < StepArticles {
		dd.ArticleIDs = nil
	}
}

// ChainComplete reports whether the full vehicle chain is resolved.
func ChainComplete(dd *session.DrillDown) bool {
	return dd != nil &&
		dd.VehicleTypeID != nil &&
		dd.ManufacturerID != nil &&
		dd.ModelID != nil &&
		dd.VehicleID != nil
}

// CategoriesResolved reports whether depth category levels are all chosen.
func CategoriesResolved(dd *session.DrillDown, depth int) bool {
	return dd != nil && len(dd.CategoryPath) >= depth
}
