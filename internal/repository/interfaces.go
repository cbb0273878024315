package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/synesthesie/imagemeta/internal/metadata"
	"github.com/synesthesie/imagemeta/internal/models"
	"github.com/synesthesie/imagemeta/internal/query"
)

// AssetRepository defines the interface for asset data operations.
// Missing records are reported as apperr.NotFound, every other failure as
// apperr.StorageUnavailable.
type AssetRepository interface {
	// Create operations
	Create(ctx context.Context, asset *models.Asset) error

	// Read operations
	FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	FindMany(ctx context.Context, filter query.Filter, page query.Page) ([]models.Asset, error)
	Count(ctx context.Context, filter query.Filter) (int64, error)

	// Update operations
	UpdateCurrentDocument(ctx context.Context, id uuid.UUID, doc metadata.Document, at time.Time) error
	UpdateVisibility(ctx context.Context, id uuid.UUID, visibility models.AssetVisibility, at time.Time) error

	// Delete operations; versions of the asset are removed with it
	Delete(ctx context.Context, id uuid.UUID) error
}

// VersionRepository defines the interface for the append-only version log.
type VersionRepository interface {
	// Create operations
	Create(ctx context.Context, version *models.MetadataVersion) error
	NextSeq(ctx context.Context, assetID uuid.UUID) (int64, error)

	// Read operations, newest first
	FindByID(ctx context.Context, assetID, versionID uuid.UUID) (*models.MetadataVersion, error)
	List(ctx context.Context, assetID uuid.UUID, limit, offset int) ([]models.MetadataVersion, error)
	Count(ctx context.Context, assetID uuid.UUID) (int64, error)
}

// Store groups the repositories and the transaction boundary.
type Store interface {
	Assets() AssetRepository
	Versions() VersionRepository

	// Transaction runs fn against a store bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise;
	// fn's error is returned unchanged.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}
