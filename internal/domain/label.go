package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// LabelKind identifies which label flow a batch belongs to.
type LabelKind string

const (
	LabelKindQC  LabelKind = "QC"
	LabelKindGRN LabelKind = "GRN"
)

func (k LabelKind) String() string { return string(k) }

func (k LabelKind) IsValid() bool {
	switch k {
	case LabelKindQC, LabelKindGRN:
		return true
	}
	return false
}

func ParseLabelKindFromString(s string) (LabelKind, error) {
	k := LabelKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid label kind %q", ErrValidation, s)
	}
	return k, nil
}

// LabelMode selects whether an item amount is a weight or a count.
type LabelMode string

const (
	LabelModeQuantity LabelMode = "QUANTITY"
	LabelModeWeight   LabelMode = "WEIGHT"
)

func (m LabelMode) String() string { return string(m) }

func (m LabelMode) IsValid() bool {
	switch m {
	case LabelModeQuantity, LabelModeWeight:
		return true
	}
	return false
}

func ParseLabelModeFromString(s string) (LabelMode, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	switch normalized {
	case "QTY":
		normalized = string(LabelModeQuantity)
	case "":
		return "", fmt.Errorf("%w: label mode is required", ErrValidation)
	}
	m := LabelMode(normalized)
	if !m.IsValid() {
		return "", fmt.Errorf("%w: invalid label mode %q", ErrValidation, s)
	}
	return m, nil
}

// NotIncludedLabel is the container label recorded when no type was selected.
const NotIncludedLabel = "Not Included"

// PalletType is the pallet a GRN item was received on.
type PalletType string

const (
	PalletTypeWhiteDry    PalletType = "WHITE_DRY"
	PalletTypeWhiteWet    PalletType = "WHITE_WET"
	PalletTypeChepDry     PalletType = "CHEP_DRY"
	PalletTypeChepWet     PalletType = "CHEP_WET"
	PalletTypeEuro        PalletType = "EURO"
	PalletTypeNotIncluded PalletType = "NOT_INCLUDED"
)

var palletLabels = map[PalletType]string{
	PalletTypeWhiteDry:    "White Dry",
	PalletTypeWhiteWet:    "White Wet",
	PalletTypeChepDry:     "Chep Dry",
	PalletTypeChepWet:     "Chep Wet",
	PalletTypeEuro:        "Euro",
	PalletTypeNotIncluded: NotIncludedLabel,
}

func (p PalletType) String() string { return string(p) }

func (p PalletType) IsValid() bool {
	_, ok := palletLabels[p]
	return ok
}

// Label is the human readable name persisted with the batch.
func (p PalletType) Label() string {
	if label, ok := palletLabels[p]; ok {
		return label
	}
	return NotIncludedLabel
}

// ParsePalletTypeFromString accepts "whiteDry", "WHITE_DRY" or "white dry".
// An empty value means no pallet was selected.
func ParsePalletTypeFromString(s string) (PalletType, error) {
	key := compactKey(s)
	if key == "" {
		return PalletTypeNotIncluded, nil
	}
	for p := range palletLabels {
		if compactKey(string(p)) == key {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: invalid pallet type %q", ErrValidation, s)
}

// PackageType is the packaging wrapped around a GRN item.
type PackageType string

const (
	PackageTypeStill       PackageType = "STILL"
	PackageTypeBag         PackageType = "BAG"
	PackageTypeTote        PackageType = "TOTE"
	PackageTypeOcto        PackageType = "OCTO"
	PackageTypeNotIncluded PackageType = "NOT_INCLUDED"
)

var packageLabels = map[PackageType]string{
	PackageTypeStill:       "Still",
	PackageTypeBag:         "Bag",
	PackageTypeTote:        "Tote",
	PackageTypeOcto:        "Octo",
	PackageTypeNotIncluded: NotIncludedLabel,
}

func (p PackageType) String() string { return string(p) }

func (p PackageType) IsValid() bool {
	_, ok := packageLabels[p]
	return ok
}

func (p PackageType) Label() string {
	if label, ok := packageLabels[p]; ok {
		return label
	}
	return NotIncludedLabel
}

func ParsePackageTypeFromString(s string) (PackageType, error) {
	key := compactKey(s)
	if key == "" {
		return PackageTypeNotIncluded, nil
	}
	for p := range packageLabels {
		if compactKey(string(p)) == key {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: invalid package type %q", ErrValidation, s)
}

func compactKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}
