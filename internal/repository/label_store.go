package repository

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kursadbilgin/label-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	palletDateLayout = "020106"
	seriesLength     = 6
	seriesAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	insertBatchSize  = 100
)

// ContainerCounts are the pallet and package counts recorded on a batch.
type ContainerCounts struct {
	Pallets  int
	Packages int
}

// ContainerLabels are the display names of the pallet and package types.
type ContainerLabels struct {
	Pallet  string
	Package string
}

// AllocationRequest carries everything needed to create the base records
// of one batch in a single transaction.
type AllocationRequest struct {
	BatchID          string
	Kind             domain.LabelKind
	ProductCode      string
	CounterpartyCode string
	ReferenceNumber  string
	OperatorID       string
	Mode             domain.LabelMode
	Amounts          []float64
	GrossAmounts     []float64
	ContainerCounts  ContainerCounts
	ContainerLabels  ContainerLabels
}

// AllocationResponse mirrors the backend contract: Pairs is populated only
// when Success is true.
type AllocationResponse struct {
	Success bool
	Pairs   []domain.IdentifierPair
	Error   string
}

type LabelStore interface {
	CreateLabelRecords(ctx context.Context, req AllocationRequest) (*AllocationResponse, error)
	GetBatch(ctx context.Context, id string) (*domain.LabelBatch, []domain.PalletRecord, error)
	UpdateBatchStatus(ctx context.Context, id string, status domain.BatchStatus, reason string) error
	AbandonStaleBatches(ctx context.Context, cutoff time.Time, limit int, reason string) ([]string, error)
}

type GormLabelStore struct {
	db     *gorm.DB
	now    func() time.Time
	random io.Reader
}

func NewGormLabelStore(db *gorm.DB) *GormLabelStore {
	return &GormLabelStore{
		db:     db,
		now:    time.Now,
		random: rand.Reader,
	}
}

func (r *GormLabelStore) CreateLabelRecords(ctx context.Context, req AllocationRequest) (*AllocationResponse, error) {
	count := len(req.Amounts)
	if count == 0 {
		return &AllocationResponse{Success: false, Error: "no amounts to allocate"}, nil
	}
	if strings.TrimSpace(req.BatchID) == "" {
		return &AllocationResponse{Success: false, Error: "batch id is required"}, nil
	}

	now := r.now().UTC()
	dateKey := now.Format(palletDateLayout)

	series := make([]string, count)
	for i := range series {
		s, err := newSeries(r.random, dateKey)
		if err != nil {
			return nil, fmt.Errorf("generate series: %w", err)
		}
		series[i] = s
	}

	var pairs []domain.IdentifierPair
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int
		err := tx.Raw(
			`INSERT INTO pallet_sequences (date_key, last_value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (date_key) DO UPDATE
			 SET last_value = pallet_sequences.last_value + EXCLUDED.last_value, updated_at = EXCLUDED.updated_at
			 RETURNING last_value`,
			dateKey, count, now,
		).Scan(&last).Error
		if err != nil {
			return fmt.Errorf("reserve pallet numbers: %w", err)
		}

		batch := LabelBatchModel{
			ID:               req.BatchID,
			Kind:             req.Kind,
			ProductCode:      req.ProductCode,
			CounterpartyCode: req.CounterpartyCode,
			ReferenceNumber:  req.ReferenceNumber,
			OperatorID:       req.OperatorID,
			Mode:             req.Mode,
			PalletTypeLabel:  req.ContainerLabels.Pallet,
			PackageTypeLabel: req.ContainerLabels.Package,
			PalletCount:      req.ContainerCounts.Pallets,
			PackageCount:     req.ContainerCounts.Packages,
			TotalCount:       count,
			Status:           domain.BatchStatusAllocated,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.Create(&batch).Error; err != nil {
			return fmt.Errorf("create batch: %w", err)
		}

		pallets, allocated := buildPallets(req, last-count+1, dateKey, series, now)
		if err := tx.CreateInBatches(&pallets, insertBatchSize).Error; err != nil {
			return fmt.Errorf("create pallets: %w", err)
		}

		pairs = allocated
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create label records: %w", err)
	}

	return &AllocationResponse{Success: true, Pairs: pairs}, nil
}

func (r *GormLabelStore) GetBatch(ctx context.Context, id string) (*domain.LabelBatch, []domain.PalletRecord, error) {
	var model LabelBatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var pallets []PalletModel
	err = r.db.WithContext(ctx).
		Where("batch_id = ?", id).
		Order("item_index ASC").
		Find(&pallets).Error
	if err != nil {
		return nil, nil, err
	}

	records := make([]domain.PalletRecord, 0, len(pallets))
	for i := range pallets {
		records = append(records, palletModelToDomain(&pallets[i]))
	}
	return labelBatchModelToDomain(&model), records, nil
}

// UpdateBatchStatus only moves batches out of ALLOCATED; a finished batch
// keeps its first terminal status.
func (r *GormLabelStore) UpdateBatchStatus(ctx context.Context, id string, status domain.BatchStatus, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&LabelBatchModel{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusAllocated).
		Updates(map[string]any{
			"status":        status,
			"status_reason": reason,
			"updated_at":    r.now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var exists int64
		if err := r.db.WithContext(ctx).Model(&LabelBatchModel{}).Where("id = ?", id).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	return nil
}

// AbandonStaleBatches marks batches still ALLOCATED before cutoff as
// ABANDONED and returns their ids. Their pallet rows are kept.
func (r *GormLabelStore) AbandonStaleBatches(ctx context.Context, cutoff time.Time, limit int, reason string) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}

	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var models []LabelBatchModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Select("id").
			Where("status = ? AND created_at < ?", domain.BatchStatusAllocated, cutoff).
			Order("created_at ASC").
			Limit(limit).
			Find(&models).Error
		if err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}

		ids = make([]string, 0, len(models))
		for i := range models {
			ids = append(ids, models[i].ID)
		}

		return tx.Model(&LabelBatchModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":        domain.BatchStatusAbandoned,
				"status_reason": reason,
				"updated_at":    r.now().UTC(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func buildPallets(req AllocationRequest, first int, dateKey string, series []string, now time.Time) ([]PalletModel, []domain.IdentifierPair) {
	pallets := make([]PalletModel, 0, len(req.Amounts))
	pairs := make([]domain.IdentifierPair, 0, len(req.Amounts))
	for i, amount := range req.Amounts {
		pair := domain.IdentifierPair{
			PalletNumber: formatPalletNumber(dateKey, first+i),
			Series:       series[i],
		}
		var gross float64
		if i < len(req.GrossAmounts) {
			gross = req.GrossAmounts[i]
		}
		pallets = append(pallets, PalletModel{
			PalletNumber: pair.PalletNumber,
			Series:       pair.Series,
			BatchID:      req.BatchID,
			ItemIndex:    i,
			ProductCode:  req.ProductCode,
			Amount:       amount,
			GrossAmount:  gross,
			CreatedAt:    now,
		})
		pairs = append(pairs, pair)
	}
	return pallets, pairs
}

func formatPalletNumber(dateKey string, n int) string {
	return fmt.Sprintf("%s/%d", dateKey, n)
}

func newSeries(random io.Reader, dateKey string) (string, error) {
	buf := make([]byte, seriesLength)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = seriesAlphabet[int(b)%len(seriesAlphabet)]
	}
	return dateKey + "-" + string(buf), nil
}
