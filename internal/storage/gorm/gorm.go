// Package gormstorage implements the storage.Backend interface on top of any
// GORM dialect. Each annotation set is one row in annotation_records.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mriview/viewer/internal/model"
	"github.com/mriview/viewer/internal/storage"
	"github.com/mriview/viewer/pkg/core"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
}

// Backend implements storage.Backend using GORM.
type Backend struct {
	deps Dependencies
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the annotation schema.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm backend has no database")
	}
	b.deps.Logger.Info("Migrating schema", "dialect", b.deps.DB.Dialector.Name())
	if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (b *Backend) Close() error {
	if b.deps.DB == nil {
		return nil
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save upserts the set's record.
func (b *Backend) Save(set *core.AnnotationSet) error {
	rec, err := model.NewAnnotationRecord(set)
	if err != nil {
		return err
	}
	return Upsert(b.deps.DB, []model.AnnotationRecord{rec})
}

// Upsert writes records, replacing any existing row with the same key.
func Upsert(db *gorm.DB, records []model.AnnotationRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"pixel_spacing", "markers", "measurements", "crosshairs", "payload", "modified_at"}),
	}).Create(&records).Error
	if err != nil {
		return fmt.Errorf("failed to upsert %d annotation records: %w", len(records), err)
	}
	return nil
}

// Load returns the stored set for key.
func (b *Backend) Load(key core.Key) (*core.AnnotationSet, error) {
	var rec model.AnnotationRecord
	err := b.deps.DB.Where(&model.AnnotationRecord{Key: key.String()}).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}

	set, err := rec.AnnotationSet()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", storage.ErrCorrupt, key, err)
	}
	return set, nil
}

// LoadSeries returns every decodable set of a series ordered by image index.
func (b *Backend) LoadSeries(seriesID string) ([]*core.AnnotationSet, error) {
	var recs []model.AnnotationRecord
	err := b.deps.DB.Where("series_id = ?", seriesID).Order("image_index").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load series %s: %w", seriesID, err)
	}

	sets := make([]*core.AnnotationSet, 0, len(recs))
	for _, rec := range recs {
		set, err := rec.AnnotationSet()
		if err != nil {
			b.deps.Logger.Warn("Skipping corrupt annotation record", "key", rec.Key, "error", err)
			continue
		}
		sets = append(sets, set)
	}
	return sets, nil
}
