package services

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/synesthesie/imagemeta/internal/apperr"
	"github.com/synesthesie/imagemeta/internal/clock"
	"github.com/synesthesie/imagemeta/internal/metadata"
	"github.com/synesthesie/imagemeta/internal/models"
	"github.com/synesthesie/imagemeta/internal/repository"
)

// VersionStore owns the append-only version log of every asset.
type VersionStore struct {
	store repository.Store
	clock clock.Clock
	ids   clock.IDGenerator
}

func NewVersionStore(store repository.Store, clk clock.Clock, ids clock.IDGenerator) *VersionStore {
	return &VersionStore{store: store, clock: clk, ids: ids}
}

// WithStore returns a VersionStore bound to store, typically a transaction.
func (s *VersionStore) WithStore(store repository.Store) *VersionStore {
	return &VersionStore{store: store, clock: s.clock, ids: s.ids}
}

// Snapshot appends prior as a new version of the asset.
func (s *VersionStore) Snapshot(ctx context.Context, assetID uuid.UUID, prior metadata.Document, authorID string, changeType models.ChangeType, description string) (uuid.UUID, error) {
	if !changeType.Valid() {
		return uuid.Nil, apperr.InvalidRequest.New("unknown change type %q", changeType)
	}
	if _, err := s.store.Assets().FindByID(ctx, assetID); err != nil {
		return uuid.Nil, err
	}

	seq, err := s.store.Versions().NextSeq(ctx, assetID)
	if err != nil {
		return uuid.Nil, err
	}
	version := &models.MetadataVersion{
		ID:          s.ids.New(),
		AssetID:     assetID,
		Seq:         seq,
		AuthorID:    authorID,
		ChangeType:  changeType,
		Description: description,
		Document:    datatypes.JSONMap(prior.Clone()),
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.Versions().Create(ctx, version); err != nil {
		return uuid.Nil, err
	}
	return version.ID, nil
}

// List returns versions newest first.
func (s *VersionStore) List(ctx context.Context, assetID uuid.UUID, limit, offset int) ([]models.MetadataVersion, error) {
	return s.store.Versions().List(ctx, assetID, limit, offset)
}

// Count returns the number of versions of the asset.
func (s *VersionStore) Count(ctx context.Context, assetID uuid.UUID) (int64, error) {
	return s.store.Versions().Count(ctx, assetID)
}

// Get fails with NotFound when versionID does not belong to assetID.
func (s *VersionStore) Get(ctx context.Context, assetID, versionID uuid.UUID) (*models.MetadataVersion, error) {
	return s.store.Versions().FindByID(ctx, assetID, versionID)
}

// Diff compares two documents.
func (s *VersionStore) Diff(a, b metadata.Document, opts metadata.DiffOptions) metadata.Delta {
	return metadata.Diff(a, b, opts)
}

// Mutation describes one snapshot-then-swap write.
type Mutation struct {
	AssetID     uuid.UUID
	AuthorID    string
	ChangeType  models.ChangeType
	Description string

	// Guard may reject the mutation after the asset was loaded.
	Guard func(asset *models.Asset) error

	// Next computes the new current document from the current one. It runs
	// inside the transaction and may read through tx.
	Next func(ctx context.Context, tx repository.Store, current metadata.Document) (metadata.Document, error)
}

// Apply snapshots the current document of the asset and replaces it with
// the document computed by m.Next in one transaction. Guard and Next errors
// are returned unchanged; a failed snapshot or swap is a WriteFailed and
// leaves the asset untouched.
func (s *VersionStore) Apply(ctx context.Context, m Mutation) (uuid.UUID, error) {
	var versionID uuid.UUID
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		asset, err := tx.Assets().FindByID(ctx, m.AssetID)
		if err != nil {
			return err
		}
		if m.Guard != nil {
			if err := m.Guard(asset); err != nil {
				return err
			}
		}

		current := asset.CurrentDocument()
		next, err := m.Next(ctx, tx, current.Clone())
		if err != nil {
			return err
		}

		versionID, err = s.WithStore(tx).Snapshot(ctx, m.AssetID, current, m.AuthorID, m.ChangeType, m.Description)
		if err != nil {
			return apperr.WriteFailed.New("snapshot: %v", err)
		}
		if err := tx.Assets().UpdateCurrentDocument(ctx, m.AssetID, next, s.clock.Now()); err != nil {
			return apperr.WriteFailed.New("swap: %v", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return versionID, nil
}

// Restore makes the document of versionID current again. The document
// being replaced is kept as a new restore version; history is never
// rewritten. guard may be nil.
func (s *VersionStore) Restore(ctx context.Context, assetID, versionID uuid.UUID, authorID string, guard func(*models.Asset) error) (uuid.UUID, error) {
	return s.Apply(ctx, Mutation{
		AssetID:     assetID,
		AuthorID:    authorID,
		ChangeType:  models.ChangeRestore,
		Description: "restored version " + versionID.String(),
		Guard:       guard,
		Next:        restoreTo(assetID, versionID),
	})
}

func restoreTo(assetID, versionID uuid.UUID) func(context.Context, repository.Store, metadata.Document) (metadata.Document, error) {
	return func(ctx context.Context, tx repository.Store, current metadata.Document) (metadata.Document, error) {
		target, err := tx.Versions().FindByID(ctx, assetID, versionID)
		if err != nil {
			return nil, err
		}
		return target.Snapshot(), nil
	}
}
