// Package directive implements the in-band protocol that tunnels structured
// commands through chat messages.
//
// A message is a single text blob whose blank-line-separated segments are
// each either plain prose or a JSON object tagged with a "type" field. The
// codec is a closed set of tagged variants: every recognized kind has a
// concrete Go type, and Encode/Decode are structural inverses: decoding an
// encoded message reproduces the original payload objects and free text
// exactly.
//
// Unknown-but-well-formed payloads are tolerated for forward compatibility:
// their "message" field (if present) joins the visible text and the rest is
// dropped.
package directive

import (
	"encoding/json"
	"fmt"

	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/inventory"
)

// Kind tags a directive payload on the wire.
type Kind string

// Inbound directive kinds (client → engine).
const (
	KindRequestManufacturers Kind = "request-manufacturers"
	KindRequestModels        Kind = "request-models"
	KindRequestVehicles      Kind = "request-vehicles"
	KindRequestCategories    Kind = "request-categories"
	KindRequestArticles      Kind = "request-articles"
	KindVehicleSelected      Kind = "vehicle-selected"
	KindCategorySelected     Kind = "category-selected"
	KindNoStockSignal        Kind = "no-stock-signal"
	KindInventoryFailed      Kind = "inventory-check-failed-signal"
)

// Outbound directive kinds (engine → client).
const (
	KindOpenVehiclePicker   Kind = "open-vehicle-picker"
	KindManufacturersResult Kind = "manufacturers-result"
	KindModelsResult        Kind = "models-result"
	KindVehiclesResult      Kind = "vehicles-result"
	KindOpenCategoryPicker  Kind = "open-category-picker"
	KindCategoriesResult    Kind = "categories-result"
	KindArticlesResult      Kind = "articles-result"
	KindNoArticlesSignal    Kind = "no-articles-signal"
	KindError               Kind = "error"
)

// Directive is one structured payload tunneled inside a chat message.
type Directive interface {
	DirectiveKind() Kind
}

// RequestManufacturers asks for the manufacturers of a vehicle type.
type RequestManufacturers struct {
	VehicleTypeID int64 `json:"vehicle_type_id"`
}

func (RequestManufacturers) DirectiveKind() Kind { return KindRequestManufacturers }

// RequestModels asks for the models of a manufacturer.
type RequestModels struct {
	ManufacturerID int64 `json:"manufacturer_id"`
	VehicleTypeID  int64 `json:"vehicle_type_id"`
}

func (RequestModels) DirectiveKind() Kind { return KindRequestModels }

// RequestVehicles asks for the engine/trim variants of a model.
type RequestVehicles struct {
	ModelID        int64 `json:"model_id"`
	ManufacturerID int64 `json:"manufacturer_id"`
	VehicleTypeID  int64 `json:"vehicle_type_id"`
}

func (RequestVehicles) DirectiveKind() Kind { return KindRequestVehicles }

// RequestCategories asks for the category tree of a selected vehicle.
type RequestCategories struct {
	VehicleID      int64 `json:"vehicle_id"`
	ManufacturerID int64 `json:"manufacturer_id"`
}

func (RequestCategories) DirectiveKind() Kind { return KindRequestCategories }

// RequestArticles asks for the articles of a resolved category path.
type RequestArticles struct {
	VehicleID      int64 `json:"vehicle_id"`
	ProductGroupID int64 `json:"product_group_id"`
	ManufacturerID int64 `json:"manufacturer_id"`
}

func (RequestArticles) DirectiveKind() Kind { return KindRequestArticles }

// VehicleSelected reports the full vehicle the user picked.
type VehicleSelected struct {
	Vehicle catalog.Vehicle `json:"vehicle"`
}

func (VehicleSelected) DirectiveKind() Kind { return KindVehicleSelected }

// CategorySelected reports a chosen category and any tentatively selected
// articles.
type CategorySelected struct {
	CategoryID int64   `json:"category_id"`
	Path       []int64 `json:"path"`
	ArticleIDs []int64 `json:"article_ids,omitempty"`
}

func (CategorySelected) DirectiveKind() Kind { return KindCategorySelected }

// NoStockSignal acknowledges an out-of-stock notice from the client side.
type NoStockSignal struct{}

func (NoStockSignal) DirectiveKind() Kind { return KindNoStockSignal }

// InventoryFailedSignal acknowledges a failed inventory check notice.
type InventoryFailedSignal struct{}

func (InventoryFailedSignal) DirectiveKind() Kind { return KindInventoryFailed }

// OpenVehiclePicker instructs the client to open the vehicle selection flow.
type OpenVehiclePicker struct {
	Message      string                `json:"message,omitempty"`
	VehicleTypes []catalog.VehicleType `json:"vehicle_types"`
}

func (OpenVehiclePicker) DirectiveKind() Kind { return KindOpenVehiclePicker }

// ManufacturersResult carries a manufacturers step result.
type ManufacturersResult struct {
	Manufacturers []catalog.Manufacturer `json:"manufacturers"`
}

func (ManufacturersResult) DirectiveKind() Kind { return KindManufacturersResult }

// ModelsResult carries a models step result.
type ModelsResult struct {
	Models []catalog.Model `json:"models"`
}

func (ModelsResult) DirectiveKind() Kind { return KindModelsResult }

// VehiclesResult carries a vehicles step result.
type VehiclesResult struct {
	Vehicles []catalog.Vehicle `json:"vehicles"`
}

func (VehiclesResult) DirectiveKind() Kind { return KindVehiclesResult }

// OpenCategoryPicker instructs the client to open the category drill-down.
type OpenCategoryPicker struct {
	Message        string                       `json:"message,omitempty"`
	VehicleID      int64                        `json:"vehicle_id"`
	ManufacturerID int64                        `json:"manufacturer_id"`
	CategoryDepth  int                          `json:"category_depth"`
	Categories     map[string]*catalog.Category `json:"categories,omitempty"`
}

func (OpenCategoryPicker) DirectiveKind() Kind { return KindOpenCategoryPicker }

// CategoriesResult carries a categories step result.
type CategoriesResult struct {
	Categories map[string]*catalog.Category `json:"categories"`
}

func (CategoriesResult) DirectiveKind() Kind { return KindCategoriesResult }

// ArticlesResult carries inventory-enriched articles from the terminal step.
type ArticlesResult struct {
	Articles []inventory.Article `json:"articles"`
}

func (ArticlesResult) DirectiveKind() Kind { return KindArticlesResult }

// NoArticlesSignal tells the client the drill-down found no purchasable
// articles, so it should prompt the user instead of showing an empty list.
type NoArticlesSignal struct {
	Message  string              `json:"message,omitempty"`
	Articles []inventory.Article `json:"articles,omitempty"` // shown for reference only
}

func (NoArticlesSignal) DirectiveKind() Kind { return KindNoArticlesSignal }

// Error reports a retryable failure of a named step to the client.
type Error struct {
	Message   string `json:"message,omitempty"`
	CauseKind string `json:"cause_kind"`
	Step      string `json:"step,omitempty"`
}

func (Error) DirectiveKind() Kind { return KindError }

// decoders maps each kind to a factory returning a pointer the segment can
// be unmarshaled into. The returned Directive is the dereferenced value.
var decoders = map[Kind]func() Directive{
	KindRequestManufacturers: func() Directive { return &RequestManufacturers{} },
	KindRequestModels:        func() Directive { return &RequestModels{} },
	KindRequestVehicles:      func() Directive { return &RequestVehicles{} },
	KindRequestCategories:    func() Directive { return &RequestCategories{} },
	KindRequestArticles:      func() Directive { return &RequestArticles{} },
	KindVehicleSelected:      func() Directive { return &VehicleSelected{} },
	KindCategorySelected:     func() Directive { return &CategorySelected{} },
	KindNoStockSignal:        func() Directive { return &NoStockSignal{} },
	KindInventoryFailed:      func() Directive { return &InventoryFailedSignal{} },
	KindOpenVehiclePicker:    func() Directive { return &OpenVehiclePicker{} },
	KindManufacturersResult:  func() Directive { return &ManufacturersResult{} },
	KindModelsResult:         func() Directive { return &ModelsResult{} },
	KindVehiclesResult:       func() Directive { return &VehiclesResult{} },
	KindOpenCategoryPicker:   func() Directive { return &OpenCategoryPicker{} },
	KindCategoriesResult:     func() Directive { return &CategoriesResult{} },
	KindArticlesResult:       func() Directive { return &ArticlesResult{} },
	KindNoArticlesSignal:     func() Directive { return &NoArticlesSignal{} },
	KindError:                func() Directive { return &Error{} },
}

// marshalSegment renders one directive as a JSON object with the "type" tag
// first. Splicing the tag into the marshaled body keeps field order and
// numeric precision exactly as encoding/json produced them.
func marshalSegment(d Directive) (string, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal %s directive: %w", d.DirectiveKind(), err)
	}
	tag, err := json.Marshal(d.DirectiveKind())
	if err != nil {
		return "", fmt.Errorf("marshal %s tag: %w", d.DirectiveKind(), err)
	}
	if string(body) == "{}" {
		return `{"type":` + string(tag) + `}`, nil
	}
	return `{"type":` + string(tag) + `,` + string(body[1:]), nil
}
