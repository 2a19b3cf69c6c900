package catalog

// Reference data returned by the hierarchical catalog collaborator. One type
// per drill-down step, mirroring the upstream wire shapes.

// VehicleType is the root of the drill-down chain (car, truck, motorcycle).
type VehicleType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Manufacturer is a vehicle brand available for a vehicle type.
type Manufacturer struct {
	ID    int64  `json:"manufacturer_id"`
	Brand string `json:"brand"`
}

// Model is a vehicle model line of a manufacturer.
type Model struct {
	ID       int64  `json:"model_id"`
	Name     string `json:"model_name"`
	YearFrom string `json:"year_from,omitempty"`
	YearTo   string `json:"year_to,omitempty"`
}

// Vehicle is a concrete engine/trim variant of a model. It is the terminal
// link of the vehicle chain and the key for category and article lookups.
type Vehicle struct {
	ID             int64  `json:"vehicle_id"`
	ModelID        int64  `json:"model_id"`
	ManufacturerID int64  `json:"manufacturer_id"`
	VehicleTypeID  int64  `json:"vehicle_type_id"`
	Manufacturer   string `json:"manufacturer_name,omitempty"`
	ModelName      string `json:"model_name,omitempty"`
	EngineName     string `json:"engine_name,omitempty"`
	Year           string `json:"year,omitempty"`
	PowerKW        int    `json:"power_kw,omitempty"`
}

// Category is one node of the hierarchical part-category tree. Children are
// keyed by category id, matching the upstream category endpoint.
type Category struct {
	ID       int64                `json:"category_id"`
	Name     string               `json:"category_name"`
	Level    int                  `json:"level"`
	Children map[string]*Category `json:"children,omitempty"`
}

// Article is one part returned by the terminal drill-down step, before
// inventory enrichment.
type Article struct {
	ID             int64  `json:"article_id"`
	Number         string `json:"article_number"`
	SupplierName   string `json:"supplier_name,omitempty"`
	ProductName    string `json:"product_name,omitempty"`
	ProductGroupID int64  `json:"product_group_id,omitempty"`
}
