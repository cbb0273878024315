package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/synesthesie/imagemeta/internal/apperr"
	"github.com/synesthesie/imagemeta/internal/cache"
	"github.com/synesthesie/imagemeta/internal/clock"
	"github.com/synesthesie/imagemeta/internal/metadata"
	"github.com/synesthesie/imagemeta/internal/metrics"
	"github.com/synesthesie/imagemeta/internal/models"
	"github.com/synesthesie/imagemeta/internal/query"
	"github.com/synesthesie/imagemeta/internal/repository"
	"github.com/synesthesie/imagemeta/pkg/validation"
)

// CurrentVersion addresses the current document in DiffVersions.
const CurrentVersion = "current"

// DefaultMaxImageSize bounds uploads when no limit is configured.
const DefaultMaxImageSize = 25 << 20

// MetadataOptions carries the optional collaborators of MetadataService.
// Zero values select in-process defaults.
type MetadataOptions struct {
	Extractor    *metadata.Extractor
	Objects      ObjectStore
	Metrics      *metrics.Metrics
	Clock        clock.Clock
	IDs          clock.IDGenerator
	Logger       zerolog.Logger
	MaxImageSize int64
}

// MetadataService orchestrates extraction, versioned writes and search.
// Mutations on one asset are serialized; reads take no locks.
type MetadataService struct {
	store     repository.Store
	versions  *VersionStore
	cache     *cache.SearchCache
	extractor *metadata.Extractor
	objects   ObjectStore
	metrics   *metrics.Metrics
	clock     clock.Clock
	ids       clock.IDGenerator
	locks     *assetLocks
	log       zerolog.Logger
	maxSize   int64
}

func NewMetadataService(store repository.Store, searchCache *cache.SearchCache, opts MetadataOptions) *MetadataService {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = clock.UUIDGenerator{}
	}
	if opts.Extractor == nil {
		opts.Extractor = metadata.NewExtractor(opts.Logger)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.MaxImageSize <= 0 {
		opts.MaxImageSize = DefaultMaxImageSize
	}
	return &MetadataService{
		store:     store,
		versions:  NewVersionStore(store, opts.Clock, opts.IDs),
		cache:     searchCache,
		extractor: opts.Extractor,
		objects:   opts.Objects,
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		ids:       opts.IDs,
		locks:     newAssetLocks(),
		log:       opts.Logger.With().Str("component", "metadata").Logger(),
		maxSize:   opts.MaxImageSize,
	}
}

// ExtractAndNormalize builds a document from raw image bytes and user
// fields. degraded reports a partial extraction; it is never an error.
func (s *MetadataService) ExtractAndNormalize(raw []byte, user metadata.UserFields) (doc metadata.Document, degraded bool) {
	extraction := s.extractor.Extract(raw)
	s.metrics.RecordExtraction(extraction.Degraded)
	if extraction.Degraded {
		s.log.Debug().Int("bytes", len(raw)).Msg("extraction degraded")
	}
	return metadata.Normalize(extraction.Fields, user), extraction.Degraded
}

// CreateAssetInput describes an upload.
type CreateAssetInput struct {
	OwnerID  string
	IsPublic bool
	Filename string
	Data     []byte
	User     metadata.UserFields
}

// CreateAsset stores the image bytes, extracts its metadata and creates the
// asset together with its initial version.
func (s *MetadataService) CreateAsset(ctx context.Context, in CreateAssetInput) (*models.Asset, bool, error) {
	if in.OwnerID == "" {
		return nil, false, apperr.Forbidden.New("asset")
	}
	if len(in.Data) == 0 {
		return nil, false, apperr.InvalidRequest.New("empty image")
	}
	if int64(len(in.Data)) > s.maxSize {
		return nil, false, apperr.InvalidRequest.New("image too large: %d bytes (max: %d)", len(in.Data), s.maxSize)
	}
	mimeType := http.DetectContentType(in.Data)
	if !validation.ValidateImageContentType(mimeType) {
		return nil, false, apperr.InvalidRequest.New("unsupported content type %s", mimeType)
	}

	doc, degraded := s.ExtractAndNormalize(in.Data, in.User)

	id := s.ids.New()
	sum := sha256.Sum256(in.Data)
	now := s.clock.Now()
	asset := &models.Asset{
		ID:         id,
		OwnerID:    in.OwnerID,
		Key:        fmt.Sprintf("images/%s%s", id, strings.ToLower(filepath.Ext(in.Filename))),
		Filename:   validation.SanitizeString(filepath.Base(in.Filename)),
		MimeType:   mimeType,
		SizeBytes:  int64(len(in.Data)),
		Checksum:   hex.EncodeToString(sum[:]),
		Visibility: models.VisibilityOf(in.IsPublic),
		Document:   datatypes.JSONMap(doc),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if s.objects != nil {
		if err := s.objects.Put(ctx, asset.Key, bytes.NewReader(in.Data), mimeType); err != nil {
			s.log.Error().Err(err).Str("key", asset.Key).Msg("failed to store image")
			return nil, degraded, apperr.StorageUnavailable.New("object store")
		}
	}

	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Assets().Create(ctx, asset); err != nil {
			return err
		}
		_, err := s.versions.WithStore(tx).Snapshot(ctx, asset.ID, doc, in.OwnerID, models.ChangeInitial, "created")
		return err
	})
	if err != nil {
		s.metrics.RecordMutation(string(models.ChangeInitial), "error")
		// Remove the uploaded object so it does not outlive the failed insert
		if s.objects != nil {
			if delErr := s.objects.Delete(ctx, asset.Key); delErr != nil {
				s.log.Warn().Err(delErr).Str("key", asset.Key).Msg("failed to remove orphaned image")
			}
		}
		return nil, degraded, s.repoErr("create", err)
	}

	s.metrics.RecordMutation(string(models.ChangeInitial), "ok")
	s.log.Info().Str("asset_id", asset.ID.String()).Bool("degraded", degraded).Msg("asset created")
	return asset, degraded, nil
}

// repoErr records repository failures and passes err through.
func (s *MetadataService) repoErr(operation string, err error) error {
	if apperr.StorageUnavailable.Has(err) || apperr.WriteFailed.Has(err) {
		s.metrics.RecordRepositoryError(operation)
		s.log.Error().Err(err).Str("operation", operation).Msg("repository failure")
	}
	return err
}

func canRead(asset *models.Asset, callerID string) error {
	if asset.IsPublic() || (callerID != "" && asset.OwnerID == callerID) {
		return nil
	}
	return apperr.Forbidden.New("asset")
}

func canWrite(callerID string) func(*models.Asset) error {
	return func(asset *models.Asset) error {
		if callerID == "" || asset.OwnerID != callerID {
			return apperr.Forbidden.New("asset")
		}
		return nil
	}
}

// GetAsset returns the asset if callerID may see it. An empty callerID is
// an anonymous caller.
func (s *MetadataService) GetAsset(ctx context.Context, assetID uuid.UUID, callerID string) (*models.Asset, error) {
	asset, err := s.store.Assets().FindByID(ctx, assetID)
	if err != nil {
		return nil, s.repoErr("find_asset", err)
	}
	if err := canRead(asset, callerID); err != nil {
		return nil, err
	}
	return asset, nil
}

// GetCurrentMetadata returns the current document of the asset.
func (s *MetadataService) GetCurrentMetadata(ctx context.Context, assetID uuid.UUID, callerID string) (metadata.Document, error) {
	asset, err := s.GetAsset(ctx, assetID, callerID)
	if err != nil {
		return nil, err
	}
	return asset.CurrentDocument(), nil
}

// GetVersion returns one version of the asset.
func (s *MetadataService) GetVersion(ctx context.Context, assetID, versionID uuid.UUID, callerID string) (*models.MetadataVersion, error) {
	if _, err := s.GetAsset(ctx, assetID, callerID); err != nil {
		return nil, err
	}
	v, err := s.versions.Get(ctx, assetID, versionID)
	if err != nil {
		return nil, s.repoErr("find_version", err)
	}
	return v, nil
}

// VersionPage is one page of an asset's history, newest first.
type VersionPage struct {
	Versions []models.MetadataVersion `json:"versions"`
	Total    int64                    `json:"total"`
	Limit    int                      `json:"limit"`
	Offset   int                      `json:"offset"`
}

// ListVersions pages through the asset's history.
func (s *MetadataService) ListVersions(ctx context.Context, assetID uuid.UUID, limit, offset int, callerID string) (*VersionPage, error) {
	if _, err := s.GetAsset(ctx, assetID, callerID); err != nil {
		return nil, err
	}
	page := query.NewPage(limit, offset, query.DefaultSort)

	versions, err := s.versions.List(ctx, assetID, page.Limit, page.Offset)
	if err != nil {
		return nil, s.repoErr("list_versions", err)
	}
	total, err := s.versions.Count(ctx, assetID)
	if err != nil {
		return nil, s.repoErr("count_versions", err)
	}
	if versions == nil {
		versions = []models.MetadataVersion{}
	}
	return &VersionPage{Versions: versions, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// mutate runs one versioned write under the asset's lock.
func (s *MetadataService) mutate(ctx context.Context, m Mutation, callerID string) (uuid.UUID, error) {
	unlock := s.locks.Lock(m.AssetID)
	defer unlock()

	m.AuthorID = callerID
	m.Guard = canWrite(callerID)
	versionID, err := s.versions.Apply(ctx, m)
	if err != nil {
		s.metrics.RecordMutation(string(m.ChangeType), "error")
		return uuid.Nil, s.repoErr(string(m.ChangeType), err)
	}

	s.metrics.RecordMutation(string(m.ChangeType), "ok")
	s.log.Info().
		Str("asset_id", m.AssetID.String()).
		Str("version_id", versionID.String()).
		Str("change_type", string(m.ChangeType)).
		Msg("metadata changed")
	return versionID, nil
}

// EditMetadata applies patch as a JSON merge patch to the current document
// and returns the id of the version holding the replaced document.
func (s *MetadataService) EditMetadata(ctx context.Context, assetID uuid.UUID, patch map[string]any, callerID, description string) (uuid.UUID, error) {
	if patch == nil {
		return uuid.Nil, apperr.InvalidRequest.New("empty patch")
	}
	return s.mutate(ctx, Mutation{
		AssetID:     assetID,
		ChangeType:  models.ChangeEdit,
		Description: validation.SanitizeString(description),
		Next: func(_ context.Context, _ repository.Store, current metadata.Document) (metadata.Document, error) {
			return metadata.Conform(metadata.MergePatch(current, patch))
		},
	}, callerID)
}

// StripMetadata drops the camera and custom sections.
func (s *MetadataService) StripMetadata(ctx context.Context, assetID uuid.UUID, callerID string) (uuid.UUID, error) {
	return s.mutate(ctx, Mutation{
		AssetID:     assetID,
		ChangeType:  models.ChangeStrip,
		Description: "stripped camera and custom metadata",
		Next: func(_ context.Context, _ repository.Store, current metadata.Document) (metadata.Document, error) {
			return metadata.Strip(current), nil
		},
	}, callerID)
}

// RestoreVersion makes the document of versionID current again.
func (s *MetadataService) RestoreVersion(ctx context.Context, assetID, versionID uuid.UUID, callerID string) (uuid.UUID, error) {
	unlock := s.locks.Lock(assetID)
	defer unlock()

	newID, err := s.versions.Restore(ctx, assetID, versionID, callerID, canWrite(callerID))
	if err != nil {
		s.metrics.RecordMutation(string(models.ChangeRestore), "error")
		return uuid.Nil, s.repoErr(string(models.ChangeRestore), err)
	}
	s.metrics.RecordMutation(string(models.ChangeRestore), "ok")
	s.log.Info().
		Str("asset_id", assetID.String()).
		Str("version_id", newID.String()).
		Str("restored", versionID.String()).
		Msg("version restored")
	return newID, nil
}

// UpdateVisibility changes who may read the asset. It is not versioned.
func (s *MetadataService) UpdateVisibility(ctx context.Context, assetID uuid.UUID, isPublic bool, callerID string) (*models.Asset, error) {
	unlock := s.locks.Lock(assetID)
	defer unlock()

	asset, err := s.store.Assets().FindByID(ctx, assetID)
	if err != nil {
		return nil, s.repoErr("find_asset", err)
	}
	if err := canWrite(callerID)(asset); err != nil {
		return nil, err
	}
	visibility := models.VisibilityOf(isPublic)
	now := s.clock.Now()
	if err := s.store.Assets().UpdateVisibility(ctx, assetID, visibility, now); err != nil {
		return nil, s.repoErr("update_visibility", err)
	}
	asset.Visibility = visibility
	asset.UpdatedAt = now
	return asset, nil
}

// DeleteAsset removes the asset, its history and its stored image.
func (s *MetadataService) DeleteAsset(ctx context.Context, assetID uuid.UUID, callerID string) error {
	unlock := s.locks.Lock(assetID)
	defer unlock()

	asset, err := s.store.Assets().FindByID(ctx, assetID)
	if err != nil {
		return s.repoErr("find_asset", err)
	}
	if err := canWrite(callerID)(asset); err != nil {
		return err
	}

	// Delete the object first so a failure never leaves it without a record
	if s.objects != nil && asset.Key != "" {
		if err := s.objects.Delete(ctx, asset.Key); err != nil {
			s.log.Warn().Err(err).Str("key", asset.Key).Msg("failed to delete image object")
		}
	}
	if err := s.store.Assets().Delete(ctx, assetID); err != nil {
		return s.repoErr("delete_asset", err)
	}
	s.log.Info().Str("asset_id", assetID.String()).Msg("asset deleted")
	return nil
}

// DiffVersions compares two documents of the asset. Either side may be a
// version id or CurrentVersion.
func (s *MetadataService) DiffVersions(ctx context.Context, assetID uuid.UUID, from, to string, callerID string, opts metadata.DiffOptions) (metadata.Delta, error) {
	asset, err := s.GetAsset(ctx, assetID, callerID)
	if err != nil {
		return nil, err
	}
	a, err := s.resolveDocument(ctx, asset, from)
	if err != nil {
		return nil, err
	}
	b, err := s.resolveDocument(ctx, asset, to)
	if err != nil {
		return nil, err
	}
	return s.versions.Diff(a, b, opts), nil
}

func (s *MetadataService) resolveDocument(ctx context.Context, asset *models.Asset, ref string) (metadata.Document, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == CurrentVersion {
		return asset.CurrentDocument(), nil
	}
	versionID, err := uuid.Parse(ref)
	if err != nil {
		return nil, apperr.InvalidRequest.New("invalid version id")
	}
	v, err := s.versions.Get(ctx, asset.ID, versionID)
	if err != nil {
		return nil, s.repoErr("find_version", err)
	}
	return v.Snapshot(), nil
}

// AssetSummary is one search hit.
type AssetSummary struct {
	ID        uuid.UUID         `json:"id"`
	OwnerID   string            `json:"ownerId"`
	IsPublic  bool              `json:"isPublic"`
	Filename  string            `json:"filename"`
	MimeType  string            `json:"mimeType"`
	Document  metadata.Document `json:"document"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// SearchResult is one page of search hits and the total hit count.
type SearchResult struct {
	Results []AssetSummary `json:"results"`
	Total   int64          `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	Sort    string         `json:"sort"`
}

func summarize(assets []models.Asset) []AssetSummary {
	out := make([]AssetSummary, 0, len(assets))
	for i := range assets {
		a := &assets[i]
		out = append(out, AssetSummary{
			ID:        a.ID,
			OwnerID:   a.OwnerID,
			IsPublic:  a.IsPublic(),
			Filename:  a.Filename,
			MimeType:  a.MimeType,
			Document:  a.CurrentDocument(),
			CreatedAt: a.CreatedAt.UTC(),
			UpdatedAt: a.UpdatedAt.UTC(),
		})
	}
	return out
}

// Search compiles req and returns one page of matching assets. Cached
// pages and totals are served until they expire; writes do not invalidate
// them. Cache failures are logged and the repository is queried instead.
func (s *MetadataService) Search(ctx context.Context, req query.Request, page query.Page) (result *SearchResult, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordSearch(status, time.Since(start))
	}()

	filter, err := query.Build(req)
	if err != nil {
		return nil, err
	}
	page = query.NewPage(page.Limit, page.Offset, page.Sort)

	var results []AssetSummary
	resultsKey := query.CacheKey(cache.KindResults, filter, page)
	if !s.cacheGet(ctx, cache.KindResults, resultsKey, &results) {
		assets, err := s.store.Assets().FindMany(ctx, filter, page)
		if err != nil {
			return nil, s.repoErr("find_many", err)
		}
		results = summarize(assets)
		s.cacheSet(ctx, cache.KindResults, resultsKey, results)
	}

	var total int64
	countKey := query.CacheKey(cache.KindCount, filter, query.Page{})
	if !s.cacheGet(ctx, cache.KindCount, countKey, &total) {
		total, err = s.store.Assets().Count(ctx, filter)
		if err != nil {
			return nil, s.repoErr("count", err)
		}
		s.cacheSet(ctx, cache.KindCount, countKey, total)
	}

	if results == nil {
		results = []AssetSummary{}
	}
	return &SearchResult{
		Results: results,
		Total:   total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		Sort:    page.Sort.String(),
	}, nil
}

func (s *MetadataService) cacheGet(ctx context.Context, kind, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		s.metrics.RecordCacheError("get")
		s.log.Warn().Err(err).Str("kind", kind).Msg("search cache unavailable, querying repository")
		return false
	}
	s.metrics.RecordCacheLookup(kind, hit)
	return hit
}

func (s *MetadataService) cacheSet(ctx context.Context, kind, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cache.TTL(kind)); err != nil {
		s.metrics.RecordCacheError("set")
		s.log.Warn().Err(err).Str("kind", kind).Msg("failed to cache search result")
	}
}
