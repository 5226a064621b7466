package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/label-engine/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_pallet_sequences",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.PalletSequenceModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.PalletSequenceModel{})
			},
		},
		{
			ID: "000002_create_label_batches",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.LabelBatchModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_label_batches_allocated_created ON label_batches (created_at) WHERE status = 'ALLOCATED'`,
					`CREATE INDEX IF NOT EXISTS idx_label_batches_operator_created ON label_batches (operator_id, created_at)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.LabelBatchModel{})
			},
		},
		{
			ID: "000003_create_pallets",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.PalletModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_pallets_batch_item ON pallets (batch_id, item_index)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.PalletModel{})
			},
		},
	})

	return m.Migrate()
}
