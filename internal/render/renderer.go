// Package render turns label data into printable payloads.
package render

import (
	"context"

	"github.com/kursadbilgin/label-engine/internal/domain"
)

// Renderer is the outbound label rendering port. A returned payload may be
// empty; callers decide whether that is a failure.
type Renderer interface {
	Render(ctx context.Context, label LabelData) ([]byte, error)
}

// LabelData is everything printed on one physical label.
type LabelData struct {
	Kind               domain.LabelKind `json:"kind"`
	ItemIndex          int              `json:"itemIndex"`
	ProductCode        string           `json:"productCode"`
	ProductDescription string           `json:"productDescription,omitempty"`
	CounterpartyCode   string           `json:"supplierCode,omitempty"`
	ReferenceNumber    string           `json:"referenceNumber,omitempty"`
	OperatorID         string           `json:"operatorId"`
	Mode               domain.LabelMode `json:"mode"`
	Amount             float64          `json:"amount"`
	GrossAmount        float64          `json:"grossAmount,omitempty"`
	PalletTypeLabel    string           `json:"palletType,omitempty"`
	PackageTypeLabel   string           `json:"packageType,omitempty"`
	PalletNumber       string           `json:"palletNumber"`
	Series             string           `json:"series"`
}
