package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus is the persisted state of an allocated label batch.
type BatchStatus string

const (
	BatchStatusAllocated BatchStatus = "ALLOCATED"
	BatchStatusPrinted   BatchStatus = "PRINTED"
	BatchStatusPartial   BatchStatus = "PARTIAL"
	BatchStatusFailed    BatchStatus = "FAILED"
	BatchStatusAbandoned BatchStatus = "ABANDONED"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusAllocated, BatchStatusPrinted, BatchStatusPartial, BatchStatusFailed, BatchStatusAbandoned:
		return true
	}
	return false
}

// MaxBatchItems bounds a single submission.
const MaxBatchItems = 200

// BatchRequest is one operator submission. It is not mutated after Validate.
type BatchRequest struct {
	Kind               LabelKind
	ProductCode        string
	ProductDescription string
	// CounterpartyCode is the supplier code for GRN labels.
	CounterpartyCode string
	// ReferenceNumber is the GRN number or the QC work order reference.
	ReferenceNumber string
	OperatorID      string
	Mode            LabelMode
	PalletType      PalletType
	PackageType     PackageType
	PalletCount     int
	PackageCount    int
	// Amounts are raw per-item gross weights or quantities, in order.
	Amounts []string
}

func (r *BatchRequest) Validate() error {
	if !r.Kind.IsValid() {
		return fmt.Errorf("%w: invalid label kind %q", ErrValidation, r.Kind)
	}
	if strings.TrimSpace(r.ProductCode) == "" {
		return fmt.Errorf("%w: product or supplier information is missing", ErrValidation)
	}
	if r.Kind == LabelKindGRN {
		if strings.TrimSpace(r.CounterpartyCode) == "" {
			return fmt.Errorf("%w: product or supplier information is missing", ErrValidation)
		}
		if strings.TrimSpace(r.ReferenceNumber) == "" {
			return fmt.Errorf("%w: grn number is required", ErrValidation)
		}
	}
	if !IsNumericOperatorID(r.OperatorID) {
		return fmt.Errorf("%w: operator id must be numeric", ErrValidation)
	}
	if !r.Mode.IsValid() {
		return fmt.Errorf("%w: invalid label mode %q", ErrValidation, r.Mode)
	}
	if r.PalletType != "" && !r.PalletType.IsValid() {
		return fmt.Errorf("%w: invalid pallet type %q", ErrValidation, r.PalletType)
	}
	if r.PackageType != "" && !r.PackageType.IsValid() {
		return fmt.Errorf("%w: invalid package type %q", ErrValidation, r.PackageType)
	}
	if r.PalletCount < 0 || r.PackageCount < 0 {
		return fmt.Errorf("%w: container counts must not be negative", ErrValidation)
	}
	if len(r.Amounts) == 0 {
		if r.Mode == LabelModeWeight {
			return fmt.Errorf("%w: please enter at least one gross weight", ErrValidation)
		}
		return fmt.Errorf("%w: please enter at least one quantity", ErrValidation)
	}
	if len(r.Amounts) > MaxBatchItems {
		return fmt.Errorf("%w: batch exceeds %d labels", ErrValidation, MaxBatchItems)
	}
	return nil
}

// IsNumericOperatorID reports whether id is a non-empty run of digits.
func IsNumericOperatorID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// BatchOutcome is the user visible end state of one pipeline run.
type BatchOutcome string

const (
	OutcomeSuccess        BatchOutcome = "SUCCESS"
	OutcomePartial        BatchOutcome = "PARTIAL"
	OutcomeFailed         BatchOutcome = "FAILED"
	OutcomeNothingToPrint BatchOutcome = "NOTHING_TO_PRINT"
	OutcomeCancelled      BatchOutcome = "CANCELLED"
)

func (o BatchOutcome) String() string { return string(o) }

type NoticeLevel string

const (
	NoticeNone    NoticeLevel = ""
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is the operator facing message for a finished batch.
type Notice struct {
	Level   NoticeLevel `json:"level,omitempty"`
	Message string      `json:"message,omitempty"`
}

// BatchResult summarizes one ProcessPrintRequest call.
type BatchResult struct {
	BatchID    string
	Outcome    BatchOutcome
	Total      int
	Succeeded  int
	Failures   []ItemFailure
	Snapshot   ProgressSnapshot
	PrintJobID string
	Notice     Notice
}

// LabelBatch is the persisted header row of an allocated batch.
type LabelBatch struct {
	ID               string
	Kind             LabelKind
	ProductCode      string
	CounterpartyCode string
	ReferenceNumber  string
	OperatorID       string
	Mode             LabelMode
	PalletTypeLabel  string
	PackageTypeLabel string
	PalletCount      int
	PackageCount     int
	TotalCount       int
	Status           BatchStatus
	StatusReason     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PalletRecord is the persisted base record of one label.
type PalletRecord struct {
	PalletNumber string
	Series       string
	BatchID      string
	ItemIndex    int
	ProductCode  string
	Amount       float64
	GrossAmount  float64
	CreatedAt    time.Time
}
