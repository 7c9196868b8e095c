package units

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/craftledger/craftledger-backend/pkg/errors"
	"github.com/craftledger/craftledger-backend/pkg/orgctx"
)

// ConversionKind labels how a conversion was resolved
type ConversionKind string

const (
	KindIdentical      ConversionKind = "identical"
	KindSameType       ConversionKind = "same_type"
	KindDensity        ConversionKind = "density"
	KindCustom         ConversionKind = "custom"
	KindCustomCompound ConversionKind = "custom_compound"
)

// resultPrecision is the fixed decimal precision of conversion results.
// Rounding is half-up, which keeps repeated conversions from drifting.
const resultPrecision = 3

// MappingSource loads an organization's custom unit mappings
type MappingSource interface {
	ListMappings(ctx context.Context, org orgctx.Org) ([]Mapping, error)
}

// StaticMappings is a MappingSource over a fixed slice, for tests and
// single-org embedding.
type StaticMappings []Mapping

// ListMappings returns the static mappings regardless of organization
func (s StaticMappings) ListMappings(ctx context.Context, org orgctx.Org) ([]Mapping, error) {
	return s, nil
}

// DensityResolver resolves a stored density for an ingredient. ok is
// false when the item has no density on record.
type DensityResolver interface {
	ItemDensity(ctx context.Context, org orgctx.Org, itemID string) (decimal.Decimal, bool, error)
}

// ConvertRequest asks for an amount in another unit
type ConvertRequest struct {
	Amount   decimal.Decimal
	FromUnit string
	ToUnit   string
	// ItemID scopes density resolution; optional.
	ItemID string
	// Density overrides the item's stored density; optional.
	Density *decimal.Decimal
}

// ConvertedAmount is a successful conversion
type ConvertedAmount struct {
	Amount decimal.Decimal `json:"amount"`
	Unit   string          `json:"unit"`
	Kind   ConversionKind  `json:"kind"`
}

type cacheKey struct {
	org     string
	amount  string
	from    string
	to      string
	item    string
	density string
}

// Engine is the unit conversion engine. It is pure computation over the
// unit catalog, the org's custom mapping graph and an optional density;
// it has no ledger dependency. Successful conversions are cached;
// failures never are.
type Engine struct {
	catalog  *Catalog
	mappings MappingSource
	density  DensityResolver

	mu    sync.RWMutex
	cache map[cacheKey]ConvertedAmount
}

// NewEngine creates a conversion engine. density may be nil when no
// item-stored densities are available.
func NewEngine(catalog *Catalog, mappings MappingSource, density DensityResolver) *Engine {
	return &Engine{
		catalog:  catalog,
		mappings: mappings,
		density:  density,
		cache:    make(map[cacheKey]ConvertedAmount),
	}
}

// Convert resolves the request through, in order: the custom mapping
// graph, unit identity, same-dimension factors, density-gated
// volume/weight crossing, and custom-unit crossing. Unknown units fail
// fast before any resolution.
func (e *Engine) Convert(ctx context.Context, org orgctx.Org, req ConvertRequest) (*ConvertedAmount, error) {
	if req.Amount.IsNegative() {
		return nil, errors.BadRequest("amount must not be negative")
	}

	mappings, err := e.mappings.ListMappings(ctx, org)
	if err != nil {
		return nil, err
	}
	graph := NewGraph(mappings)

	fromStd, fromKnown := e.catalog.Lookup(req.FromUnit)
	toStd, toKnown := e.catalog.Lookup(req.ToUnit)

	if !fromKnown && !graph.HasNode(req.FromUnit) {
		return nil, errors.UnknownUnit(req.FromUnit)
	}
	if !toKnown && !graph.HasNode(req.ToUnit) {
		return nil, errors.UnknownUnit(req.ToUnit)
	}

	key := e.key(org, req)
	if cached, ok := e.lookupCache(key); ok {
		return &cached, nil
	}

	result, err := e.resolve(ctx, org, req, graph, fromStd, fromKnown, toStd, toKnown)
	if err != nil {
		return nil, err
	}

	result.Amount = roundHalfUp(result.Amount)
	e.storeCache(key, *result)
	return result, nil
}

func (e *Engine) resolve(
	ctx context.Context,
	org orgctx.Org,
	req ConvertRequest,
	graph *Graph,
	fromStd Unit, fromKnown bool,
	toStd Unit, toKnown bool,
) (*ConvertedAmount, error) {
	// 1. Custom mapping path, single or multi-hop.
	if factor, hops, ok := graph.FindPath(req.FromUnit, req.ToUnit); ok {
		kind := KindCustom
		if hops > 1 {
			kind = KindCustomCompound
		}
		return &ConvertedAmount{Amount: req.Amount.Mul(factor), Unit: req.ToUnit, Kind: kind}, nil
	}

	// 2. Identical unit.
	if req.FromUnit == req.ToUnit {
		return &ConvertedAmount{Amount: req.Amount, Unit: req.ToUnit, Kind: KindIdentical}, nil
	}

	// 3. Same base type.
	if fromKnown && toKnown && fromStd.Dimension == toStd.Dimension {
		amount := req.Amount.Mul(fromStd.FactorToBase).Div(toStd.FactorToBase)
		return &ConvertedAmount{Amount: amount, Unit: req.ToUnit, Kind: KindSameType}, nil
	}

	// 4. Cross type, volume to weight or back, gated on density (g/ml).
	if fromKnown && toKnown && crossesVolumeWeight(fromStd, toStd) {
		density, err := e.resolveDensity(ctx, org, req)
		if err != nil {
			return nil, err
		}

		var amount decimal.Decimal
		if fromStd.Dimension == DimensionVolume {
			grams := req.Amount.Mul(fromStd.FactorToBase).Mul(density)
			amount = grams.Div(toStd.FactorToBase)
		} else {
			milliliters := req.Amount.Mul(fromStd.FactorToBase).Div(density)
			amount = milliliters.Div(toStd.FactorToBase)
		}
		return &ConvertedAmount{Amount: amount, Unit: req.ToUnit, Kind: KindDensity}, nil
	}

	// 5. Cross type via a custom unit: the graph search above is the
	// only route for org-defined units, and it found nothing.
	if !fromKnown || !toKnown {
		return nil, errors.MissingCustomMapping(req.FromUnit, req.ToUnit)
	}

	// 6. Anything else (for example count to volume).
	return nil, errors.UnsupportedConversion(req.FromUnit, req.ToUnit)
}

func crossesVolumeWeight(from, to Unit) bool {
	return (from.Dimension == DimensionVolume && to.Dimension == DimensionWeight) ||
		(from.Dimension == DimensionWeight && to.Dimension == DimensionVolume)
}

// resolveDensity resolves the density for a cross-type conversion: the
// explicit argument wins, then the ingredient's stored density. Densities
// must be positive.
func (e *Engine) resolveDensity(ctx context.Context, org orgctx.Org, req ConvertRequest) (decimal.Decimal, error) {
	if req.Density != nil {
		if !req.Density.IsPositive() {
			return decimal.Zero, errors.MissingDensity(req.FromUnit, req.ToUnit, req.ItemID)
		}
		return *req.Density, nil
	}

	if e.density != nil && req.ItemID != "" {
		density, ok, err := e.density.ItemDensity(ctx, org, req.ItemID)
		if err != nil {
			return decimal.Zero, err
		}
		if ok && density.IsPositive() {
			return density, nil
		}
	}

	return decimal.Zero, errors.MissingDensity(req.FromUnit, req.ToUnit, req.ItemID)
}

func (e *Engine) key(org orgctx.Org, req ConvertRequest) cacheKey {
	density := ""
	if req.Density != nil {
		density = req.Density.String()
	}
	return cacheKey{
		org:     org.ID,
		amount:  req.Amount.String(),
		from:    req.FromUnit,
		to:      req.ToUnit,
		item:    req.ItemID,
		density: density,
	}
}

func (e *Engine) lookupCache(key cacheKey) (ConvertedAmount, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cached, ok := e.cache[key]
	return cached, ok
}

func (e *Engine) storeCache(key cacheKey, result ConvertedAmount) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[key] = result
}

// roundHalfUp rounds to the fixed result precision. Amounts are
// validated non-negative, so round-half-away-from-zero is half-up.
func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(resultPrecision)
}
