package repository

import (
	"time"

	"github.com/kursadbilgin/label-engine/internal/domain"
)

// LabelBatchModel is the persistence model for label_batches.
type LabelBatchModel struct {
	ID               string             `gorm:"type:uuid;primaryKey"`
	Kind             domain.LabelKind   `gorm:"type:varchar(8);not null"`
	ProductCode      string             `gorm:"type:varchar(64);not null"`
	CounterpartyCode string             `gorm:"type:varchar(64)"`
	ReferenceNumber  string             `gorm:"type:varchar(64)"`
	OperatorID       string             `gorm:"type:varchar(32);not null"`
	Mode             domain.LabelMode   `gorm:"type:varchar(16);not null"`
	PalletTypeLabel  string             `gorm:"type:varchar(32);not null"`
	PackageTypeLabel string             `gorm:"type:varchar(32);not null"`
	PalletCount      int                `gorm:"not null;default:0"`
	PackageCount     int                `gorm:"not null;default:0"`
	TotalCount       int                `gorm:"not null"`
	Status           domain.BatchStatus `gorm:"type:varchar(20);not null"`
	StatusReason     string             `gorm:"type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (LabelBatchModel) TableName() string {
	return "label_batches"
}

// PalletModel is the persistence model for pallets, one row per label.
type PalletModel struct {
	PalletNumber string  `gorm:"type:varchar(32);primaryKey"`
	Series       string  `gorm:"type:varchar(32);not null;uniqueIndex"`
	BatchID      string  `gorm:"type:uuid;not null;index"`
	ItemIndex    int     `gorm:"not null"`
	ProductCode  string  `gorm:"type:varchar(64);not null"`
	Amount       float64 `gorm:"type:numeric(12,3);not null"`
	GrossAmount  float64 `gorm:"type:numeric(12,3)"`
	CreatedAt    time.Time
}

func (PalletModel) TableName() string {
	return "pallets"
}

// PalletSequenceModel holds the last pallet number issued per day.
type PalletSequenceModel struct {
	DateKey   string `gorm:"type:varchar(6);primaryKey"`
	LastValue int    `gorm:"not null"`
	UpdatedAt time.Time
}

func (PalletSequenceModel) TableName() string {
	return "pallet_sequences"
}

func labelBatchModelToDomain(m *LabelBatchModel) *domain.LabelBatch {
	if m == nil {
		return nil
	}

	return &domain.LabelBatch{
		ID:               m.ID,
		Kind:             m.Kind,
		ProductCode:      m.ProductCode,
		CounterpartyCode: m.CounterpartyCode,
		ReferenceNumber:  m.ReferenceNumber,
		OperatorID:       m.OperatorID,
		Mode:             m.Mode,
		PalletTypeLabel:  m.PalletTypeLabel,
		PackageTypeLabel: m.PackageTypeLabel,
		PalletCount:      m.PalletCount,
		PackageCount:     m.PackageCount,
		TotalCount:       m.TotalCount,
		Status:           m.Status,
		StatusReason:     m.StatusReason,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func palletModelToDomain(m *PalletModel) domain.PalletRecord {
	return domain.PalletRecord{
		PalletNumber: m.PalletNumber,
		Series:       m.Series,
		BatchID:      m.BatchID,
		ItemIndex:    m.ItemIndex,
		ProductCode:  m.ProductCode,
		Amount:       m.Amount,
		GrossAmount:  m.GrossAmount,
		CreatedAt:    m.CreatedAt,
	}
}
