package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/synesthesie/imagemeta/internal/apperr"
	"github.com/synesthesie/imagemeta/internal/metadata"
	"github.com/synesthesie/imagemeta/internal/models"
	"github.com/synesthesie/imagemeta/internal/query"
)

type memoryState struct {
	assets   map[uuid.UUID]models.Asset
	versions map[uuid.UUID][]models.MetadataVersion
	// rev counts writes per asset id, including writes to its versions.
	rev map[uuid.UUID]uint64
}

func newMemoryState() *memoryState {
	return &memoryState{
		assets:   map[uuid.UUID]models.Asset{},
		versions: map[uuid.UUID][]models.MetadataVersion{},
		rev:      map[uuid.UUID]uint64{},
	}
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		assets:   make(map[uuid.UUID]models.Asset, len(s.assets)),
		versions: make(map[uuid.UUID][]models.MetadataVersion, len(s.versions)),
		rev:      make(map[uuid.UUID]uint64, len(s.rev)),
	}
	for id, a := range s.assets {
		out.assets[id] = a
	}
	for id, vs := range s.versions {
		out.versions[id] = append([]models.MetadataVersion(nil), vs...)
	}
	for id, r := range s.rev {
		out.rev[id] = r
	}
	return out
}

// MemoryStore is an in-process Store. A transaction works on a private
// copy of the state and, when fn succeeds, publishes only the assets it
// wrote. The commit fails with WriteFailed if any of those assets was
// written by someone else after the copy was taken.
type MemoryStore struct {
	mu    *sync.RWMutex
	state *memoryState
	inTx  bool
	// touched maps each asset written inside a transaction to its revision
	// when the transaction started.
	touched map[uuid.UUID]uint64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu:    &sync.RWMutex{},
		state: newMemoryState(),
	}
}

func (s *MemoryStore) Assets() AssetRepository     { return &memoryAssets{s} }
func (s *MemoryStore) Versions() VersionRepository { return &memoryVersions{s} }

func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return apperr.StorageUnavailable.Wrap(err)
	}

	s.mu.RLock()
	working := s.state.clone()
	s.mu.RUnlock()

	tx := &MemoryStore{
		mu:      &sync.RWMutex{},
		state:   working,
		inTx:    true,
		touched: map[uuid.UUID]uint64{},
	}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// commit publishes the assets tx wrote. Assets it did not write keep
// whatever was committed meanwhile.
func (s *MemoryStore) commit(tx *MemoryStore) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, base := range tx.touched {
		if s.state.rev[id] != base {
			return apperr.WriteFailed.New("asset: concurrent update")
		}
	}
	for id := range tx.touched {
		if a, ok := tx.state.assets[id]; ok {
			s.state.assets[id] = a
		} else {
			delete(s.state.assets, id)
		}
		if vs, ok := tx.state.versions[id]; ok {
			s.state.versions[id] = vs
		} else {
			delete(s.state.versions, id)
		}
		s.state.rev[id] = tx.state.rev[id]
	}
	return nil
}

func (s *MemoryStore) read(fn func(st *memoryState)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
}

// write runs fn against the state and records a write to asset id.
func (s *MemoryStore) write(id uuid.UUID, fn func(st *memoryState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.state); err != nil {
		return err
	}
	if s.touched != nil {
		if _, seen := s.touched[id]; !seen {
			s.touched[id] = s.state.rev[id]
		}
	}
	s.state.rev[id]++
	return nil
}

// copyAsset detaches the stored document from the caller.
func copyAsset(a models.Asset) models.Asset {
	a.Document = datatypes.JSONMap(metadata.Document(a.Document).Clone())
	return a
}

func copyVersion(v models.MetadataVersion) models.MetadataVersion {
	v.Document = datatypes.JSONMap(metadata.Document(v.Document).Clone())
	v.Asset = nil
	return v
}

type memoryAssets struct{ s *MemoryStore }

func (r *memoryAssets) Create(ctx context.Context, asset *models.Asset) error {
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	if asset.Visibility == "" {
		asset.Visibility = models.AssetVisibilityPrivate
	}
	now := time.Now().UTC()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	if asset.UpdatedAt.IsZero() {
		asset.UpdatedAt = asset.CreatedAt
	}
	return r.s.write(asset.ID, func(st *memoryState) error {
		if _, exists := st.assets[asset.ID]; exists {
			return apperr.StorageUnavailable.New("asset: duplicate id")
		}
		st.assets[asset.ID] = copyAsset(*asset)
		return nil
	})
}

func (r *memoryAssets) FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var (
		asset models.Asset
		ok    bool
	)
	r.s.read(func(st *memoryState) {
		asset, ok = st.assets[id]
	})
	if !ok {
		return nil, apperr.NotFound.New("asset")
	}
	out := copyAsset(asset)
	return &out, nil
}

func (r *memoryAssets) matching(filter query.Filter) []models.Asset {
	var out []models.Asset
	r.s.read(func(st *memoryState) {
		for _, a := range st.assets {
			target := query.Target{
				OwnerID:  a.OwnerID,
				IsPublic: a.IsPublic(),
				Document: metadata.Document(a.Document),
			}
			if filter.Matches(target) {
				out = append(out, copyAsset(a))
			}
		}
	})
	return out
}

func (r *memoryAssets) FindMany(ctx context.Context, filter query.Filter, page query.Page) ([]models.Asset, error) {
	assets := r.matching(filter)
	sortAssets(assets, page.Sort)

	if page.Offset >= len(assets) {
		return []models.Asset{}, nil
	}
	assets = assets[page.Offset:]
	if page.Limit > 0 && page.Limit < len(assets) {
		assets = assets[:page.Limit]
	}
	return assets, nil
}

func sortAssets(assets []models.Asset, s query.Sort) {
	key := func(a models.Asset) time.Time {
		if s.Field == query.SortUpdatedAt {
			return a.UpdatedAt
		}
		return a.CreatedAt
	}
	sort.Slice(assets, func(i, j int) bool {
		ki, kj := key(assets[i]), key(assets[j])
		if !ki.Equal(kj) {
			if s.Desc {
				return ki.After(kj)
			}
			return ki.Before(kj)
		}
		return assets[i].ID.String() < assets[j].ID.String()
	})
}

func (r *memoryAssets) Count(ctx context.Context, filter query.Filter) (int64, error) {
	return int64(len(r.matching(filter))), nil
}

func (r *memoryAssets) UpdateCurrentDocument(ctx context.Context, id uuid.UUID, doc metadata.Document, at time.Time) error {
	return r.s.write(id, func(st *memoryState) error {
		a, ok := st.assets[id]
		if !ok {
			return apperr.NotFound.New("asset")
		}
		a.Document = datatypes.JSONMap(doc.Clone())
		a.UpdatedAt = at
		st.assets[id] = a
		return nil
	})
}

func (r *memoryAssets) UpdateVisibility(ctx context.Context, id uuid.UUID, visibility models.AssetVisibility, at time.Time) error {
	return r.s.write(id, func(st *memoryState) error {
		a, ok := st.assets[id]
		if !ok {
			return apperr.NotFound.New("asset")
		}
		a.Visibility = visibility
		a.UpdatedAt = at
		st.assets[id] = a
		return nil
	})
}

func (r *memoryAssets) Delete(ctx context.Context, id uuid.UUID) error {
	return r.s.write(id, func(st *memoryState) error {
		if _, ok := st.assets[id]; !ok {
			return apperr.NotFound.New("asset")
		}
		delete(st.assets, id)
		delete(st.versions, id)
		return nil
	})
}

type memoryVersions struct{ s *MemoryStore }

func (r *memoryVersions) Create(ctx context.Context, version *models.MetadataVersion) error {
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}
	return r.s.write(version.AssetID, func(st *memoryState) error {
		if _, ok := st.assets[version.AssetID]; !ok {
			return apperr.StorageUnavailable.New("version: unknown asset")
		}
		for _, existing := range st.versions[version.AssetID] {
			if existing.Seq == version.Seq || existing.ID == version.ID {
				return apperr.StorageUnavailable.New("version: duplicate key")
			}
		}
		st.versions[version.AssetID] = append(st.versions[version.AssetID], copyVersion(*version))
		return nil
	})
}

func (r *memoryVersions) NextSeq(ctx context.Context, assetID uuid.UUID) (int64, error) {
	var last int64
	r.s.read(func(st *memoryState) {
		for _, v := range st.versions[assetID] {
			if v.Seq > last {
				last = v.Seq
			}
		}
	})
	return last + 1, nil
}

func (r *memoryVersions) FindByID(ctx context.Context, assetID, versionID uuid.UUID) (*models.MetadataVersion, error) {
	var (
		found models.MetadataVersion
		ok    bool
	)
	r.s.read(func(st *memoryState) {
		for _, v := range st.versions[assetID] {
			if v.ID == versionID {
				found, ok = v, true
				return
			}
		}
	})
	if !ok {
		return nil, apperr.NotFound.New("version")
	}
	out := copyVersion(found)
	return &out, nil
}

func (r *memoryVersions) List(ctx context.Context, assetID uuid.UUID, limit, offset int) ([]models.MetadataVersion, error) {
	var versions []models.MetadataVersion
	r.s.read(func(st *memoryState) {
		for _, v := range st.versions[assetID] {
			versions = append(versions, copyVersion(v))
		}
	})
	sort.Slice(versions, func(i, j int) bool {
		if !versions[i].CreatedAt.Equal(versions[j].CreatedAt) {
			return versions[i].CreatedAt.After(versions[j].CreatedAt)
		}
		return versions[i].Seq > versions[j].Seq
	})

	if offset >= len(versions) {
		return []models.MetadataVersion{}, nil
	}
	versions = versions[offset:]
	if limit > 0 && limit < len(versions) {
		versions = versions[:limit]
	}
	return versions, nil
}

func (r *memoryVersions) Count(ctx context.Context, assetID uuid.UUID) (int64, error) {
	var n int
	r.s.read(func(st *memoryState) { n = len(st.versions[assetID]) })
	return int64(n), nil
}
