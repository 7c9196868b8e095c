// Package units resolves amounts across measurement units: same-dimension
// conversions through base factors, org-defined custom mappings through
// graph search, and volume/weight crossings gated on ingredient density.
package units

import "github.com/shopspring/decimal"

// Dimension is the base type of a unit
type Dimension string

const (
	DimensionVolume Dimension = "volume"
	DimensionWeight Dimension = "weight"
	DimensionCount  Dimension = "count"
)

// Unit is a standard unit with a factor to its dimension's base unit
// (milliliters for volume, grams for weight, each for count).
type Unit struct {
	Name         string
	Dimension    Dimension
	FactorToBase decimal.Decimal
}

// Catalog is the set of standard units known to the engine
type Catalog struct {
	units map[string]Unit
}

// NewCatalog creates a catalog from the given units
func NewCatalog(units []Unit) *Catalog {
	m := make(map[string]Unit, len(units))
	for _, u := range units {
		m[u.Name] = u
	}
	return &Catalog{units: m}
}

// Lookup finds a unit by name
func (c *Catalog) Lookup(name string) (Unit, bool) {
	u, ok := c.units[name]
	return u, ok
}

func f(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// DefaultCatalog returns the standard kitchen and warehouse units.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Unit{
		// Volume, base milliliter
		{Name: "ml", Dimension: DimensionVolume, FactorToBase: f("1")},
		{Name: "l", Dimension: DimensionVolume, FactorToBase: f("1000")},
		{Name: "tsp", Dimension: DimensionVolume, FactorToBase: f("4.92892")},
		{Name: "tbsp", Dimension: DimensionVolume, FactorToBase: f("14.78676")},
		{Name: "fl_oz", Dimension: DimensionVolume, FactorToBase: f("29.57353")},
		{Name: "cup", Dimension: DimensionVolume, FactorToBase: f("236.58824")},
		{Name: "pint", Dimension: DimensionVolume, FactorToBase: f("473.17648")},
		{Name: "quart", Dimension: DimensionVolume, FactorToBase: f("946.35295")},
		{Name: "gal", Dimension: DimensionVolume, FactorToBase: f("3785.41178")},

		// Weight, base gram
		{Name: "mg", Dimension: DimensionWeight, FactorToBase: f("0.001")},
		{Name: "g", Dimension: DimensionWeight, FactorToBase: f("1")},
		{Name: "kg", Dimension: DimensionWeight, FactorToBase: f("1000")},
		{Name: "oz", Dimension: DimensionWeight, FactorToBase: f("28.34952")},
		{Name: "lb", Dimension: DimensionWeight, FactorToBase: f("453.59237")},

		// Count, base each
		{Name: "each", Dimension: DimensionCount, FactorToBase: f("1")},
		{Name: "dozen", Dimension: DimensionCount, FactorToBase: f("12")},
	})
}
