package model

// PropertyFields is the client-supplied property data a generation is built
// from. A JSON copy is frozen into the generation row as the snapshot.
type PropertyFields struct {
	Address      string   `json:"address" validate:"required"`
	City         string   `json:"city"`
	State        string   `json:"state"`
	PostalCode   string   `json:"postal_code"`
	PropertyType string   `json:"property_type"`
	Price        float64  `json:"price"`
	Currency     string   `json:"currency"`
	Bedrooms     int      `json:"bedrooms"`
	Bathrooms    int      `json:"bathrooms"`
	AreaSqFt     int      `json:"area_sq_ft"`
	YearBuilt    int      `json:"year_built"`
	Features     []string `json:"features"`
	Notes        string   `json:"notes"`
}
