package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/synesthesie/imagemeta/internal/apperr"
	"github.com/synesthesie/imagemeta/internal/metadata"
	"github.com/synesthesie/imagemeta/internal/models"
	"github.com/synesthesie/imagemeta/internal/query"
)

// GormStore implements Store on a gorm connection. Postgres and SQLite are
// supported; the dialect decides how filters are translated.
type GormStore struct {
	db      *gorm.DB
	dialect string
}

// NewGormStore wraps db.
func NewGormStore(db *gorm.DB) *GormStore {
	dialect := dialectSQLite
	if db.Dialector != nil && db.Dialector.Name() == dialectPostgres {
		dialect = dialectPostgres
	}
	return &GormStore{db: db, dialect: dialect}
}

func (s *GormStore) Assets() AssetRepository     { return &gormAssets{db: s.db, dialect: s.dialect} }
func (s *GormStore) Versions() VersionRepository { return &gormVersions{db: s.db} }

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&GormStore{db: tx, dialect: s.dialect})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return apperr.StorageUnavailable.New("commit failed: %v", err)
	}
	return nil
}

// storageErr classifies a gorm error.
func storageErr(err error, subject string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound.New("%s", subject)
	}
	return apperr.StorageUnavailable.New("%s: %v", subject, err)
}

type gormAssets struct {
	db      *gorm.DB
	dialect string
}

func (r *gormAssets) Create(ctx context.Context, asset *models.Asset) error {
	return storageErr(r.db.WithContext(ctx).Create(asset).Error, "asset")
}

func (r *gormAssets) FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).First(&asset, "id = ?", id).Error; err != nil {
		return nil, storageErr(err, "asset")
	}
	return &asset, nil
}

func (r *gormAssets) FindMany(ctx context.Context, filter query.Filter, page query.Page) ([]models.Asset, error) {
	var assets []models.Asset
	q := applyFilter(r.db.WithContext(ctx).Model(&models.Asset{}), r.dialect, filter)
	q = applySort(q, page.Sort)
	if err := q.Limit(page.Limit).Offset(page.Offset).Find(&assets).Error; err != nil {
		return nil, storageErr(err, "assets")
	}
	return assets, nil
}

func (r *gormAssets) Count(ctx context.Context, filter query.Filter) (int64, error) {
	var total int64
	q := applyFilter(r.db.WithContext(ctx).Model(&models.Asset{}), r.dialect, filter)
	if err := q.Count(&total).Error; err != nil {
		return 0, storageErr(err, "assets")
	}
	return total, nil
}

func (r *gormAssets) UpdateCurrentDocument(ctx context.Context, id uuid.UUID, doc metadata.Document, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"document":   datatypes.JSONMap(doc),
		"updated_at": at,
	})
}

func (r *gormAssets) UpdateVisibility(ctx context.Context, id uuid.UUID, visibility models.AssetVisibility, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"visibility": visibility,
		"updated_at": at,
	})
}

func (r *gormAssets) update(ctx context.Context, id uuid.UUID, values map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.Asset{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return storageErr(res.Error, "asset")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound.New("asset")
	}
	return nil
}

func (r *gormAssets) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("asset_id = ?", id).Delete(&models.MetadataVersion{}).Error; err != nil {
			return storageErr(err, "versions")
		}
		res := tx.Where("id = ?", id).Delete(&models.Asset{})
		if res.Error != nil {
			return storageErr(res.Error, "asset")
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound.New("asset")
		}
		return nil
	})
}

type gormVersions struct {
	db *gorm.DB
}

func (r *gormVersions) Create(ctx context.Context, version *models.MetadataVersion) error {
	return storageErr(r.db.WithContext(ctx).Create(version).Error, "version")
}

func (r *gormVersions) NextSeq(ctx context.Context, assetID uuid.UUID) (int64, error) {
	var last int64
	err := r.db.WithContext(ctx).Model(&models.MetadataVersion{}).
		Where("asset_id = ?", assetID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, storageErr(err, "versions")
	}
	return last + 1, nil
}

func (r *gormVersions) FindByID(ctx context.Context, assetID, versionID uuid.UUID) (*models.MetadataVersion, error) {
	var version models.MetadataVersion
	err := r.db.WithContext(ctx).
		Where("id = ? AND asset_id = ?", versionID, assetID).
		First(&version).Error
	if err != nil {
		return nil, storageErr(err, "version")
	}
	return &version, nil
}

func (r *gormVersions) List(ctx context.Context, assetID uuid.UUID, limit, offset int) ([]models.MetadataVersion, error) {
	var versions []models.MetadataVersion
	err := r.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("created_at DESC").
		Order("seq DESC").
		Limit(limit).
		Offset(offset).
		Find(&versions).Error
	if err != nil {
		return nil, storageErr(err, "versions")
	}
	return versions, nil
}

func (r *gormVersions) Count(ctx context.Context, assetID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.MetadataVersion{}).
		Where("asset_id = ?", assetID).
		Count(&total).Error
	if err != nil {
		return 0, storageErr(err, "versions")
	}
	return total, nil
}
