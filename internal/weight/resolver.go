package weight

import (
	"strings"

	"github.com/kursadbilgin/label-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// TareTable holds container tare weights in kilograms.
type TareTable struct {
	Pallets  map[domain.PalletType]float64
	Packages map[domain.PackageType]float64
}

func DefaultTareTable() TareTable {
	return TareTable{
		Pallets: map[domain.PalletType]float64{
			domain.PalletTypeWhiteDry:    14,
			domain.PalletTypeWhiteWet:    18,
			domain.PalletTypeChepDry:     26,
			domain.PalletTypeChepWet:     38,
			domain.PalletTypeEuro:        22,
			domain.PalletTypeNotIncluded: 0,
		},
		Packages: map[domain.PackageType]float64{
			domain.PackageTypeStill:       50,
			domain.PackageTypeBag:         1,
			domain.PackageTypeTote:        10,
			domain.PackageTypeOcto:        20,
			domain.PackageTypeNotIncluded: 0,
		},
	}
}

// Resolver computes the net payload of a single item.
type Resolver struct {
	pallets  map[domain.PalletType]decimal.Decimal
	packages map[domain.PackageType]decimal.Decimal
}

func NewResolver(table TareTable) *Resolver {
	r := &Resolver{
		pallets:  make(map[domain.PalletType]decimal.Decimal, len(table.Pallets)),
		packages: make(map[domain.PackageType]decimal.Decimal, len(table.Packages)),
	}
	for k, v := range table.Pallets {
		r.pallets[k] = decimal.NewFromFloat(v)
	}
	for k, v := range table.Packages {
		r.packages[k] = decimal.NewFromFloat(v)
	}
	return r
}

// Resolve returns the net amount for one raw entry, or 0 when the entry is
// not a positive number. Quantity mode returns the raw amount unchanged.
// A weight that does not exceed the selected tare resolves to 0.
func (r *Resolver) Resolve(raw string, mode domain.LabelMode, pallet domain.PalletType, pkg domain.PackageType) float64 {
	gross, ok := parsePositive(raw)
	if !ok {
		return 0
	}
	if mode != domain.LabelModeWeight {
		return gross.InexactFloat64()
	}

	net := gross.Sub(r.palletTare(pallet)).Sub(r.packageTare(pkg))
	if !net.IsPositive() {
		return 0
	}
	return net.InexactFloat64()
}

// ResolveAll resolves every amount of a request in order, returning the net
// and gross values side by side.
func (r *Resolver) ResolveAll(req domain.BatchRequest) (net []float64, gross []float64) {
	net = make([]float64, len(req.Amounts))
	gross = make([]float64, len(req.Amounts))
	for i, raw := range req.Amounts {
		net[i] = r.Resolve(raw, req.Mode, req.PalletType, req.PackageType)
		if g, ok := parsePositive(raw); ok {
			gross[i] = g.InexactFloat64()
		}
	}
	return net, gross
}

// PalletTare returns the configured tare of a pallet type; unknown types weigh 0.
func (r *Resolver) PalletTare(p domain.PalletType) float64 {
	return r.palletTare(p).InexactFloat64()
}

func (r *Resolver) PackageTare(p domain.PackageType) float64 {
	return r.packageTare(p).InexactFloat64()
}

func (r *Resolver) palletTare(p domain.PalletType) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	if v, ok := r.pallets[p]; ok {
		return v
	}
	return decimal.Zero
}

func (r *Resolver) packageTare(p domain.PackageType) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	if v, ok := r.packages[p]; ok {
		return v
	}
	return decimal.Zero
}

// FilledAmounts drops blank entries so only typed rows become items.
func FilledAmounts(raw []string) []string {
	filled := make([]string, 0, len(raw))
	for _, v := range raw {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			filled = append(filled, trimmed)
		}
	}
	return filled
}

func parsePositive(raw string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}
