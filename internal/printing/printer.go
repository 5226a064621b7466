// Package printing hands rendered labels to the print spooler.
package printing

import (
	"context"

	"github.com/kursadbilgin/label-engine/internal/domain"
)

// Printer is the outbound print port. It is called once per batch.
type Printer interface {
	Print(ctx context.Context, job PrintJob) (*PrintReceipt, error)
}

// PrintJob is one submission of rendered labels, in item order.
type PrintJob struct {
	JobID       string
	BatchID     string
	Kind        domain.LabelKind
	ProductCode string
	OperatorID  string
	Labels      []PrintLabel
}

type PrintLabel struct {
	Index      int
	Identifier domain.IdentifierPair
	Payload    []byte
}

// PrintReceipt stores the spooler response for logging.
type PrintReceipt struct {
	JobID      string
	StatusCode int
	SpoolerRef string
	Queued     bool
}
