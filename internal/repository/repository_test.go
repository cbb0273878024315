package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/synesthesie/imagemeta/internal/apperr"
	"github.com/synesthesie/imagemeta/internal/metadata"
	"github.com/synesthesie/imagemeta/internal/models"
	"github.com/synesthesie/imagemeta/internal/query"
)

var base = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := gorm.Open(models.OpenSQLite(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.Migrate(db))
	return db
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, NewGormStore(openSQLite(t))) })
}

func newAsset(owner string, public bool, createdAt time.Time, doc metadata.Document) *models.Asset {
	return &models.Asset{
		OwnerID:    owner,
		Visibility: models.VisibilityOf(public),
		Filename:   "img.jpg",
		MimeType:   "image/jpeg",
		Document:   datatypes.JSONMap(doc),
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestAssets_CRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		doc := metadata.Normalize(metadata.Fields{metadata.FieldMake: "Canon"}, metadata.UserFields{Title: "a"})
		asset := newAsset("u1", false, base, doc)

		require.NoError(t, store.Assets().Create(ctx, asset))
		require.NotEqual(t, uuid.Nil, asset.ID)

		got, err := store.Assets().FindByID(ctx, asset.ID)
		require.NoError(t, err)
		assert.Equal(t, "u1", got.OwnerID)
		assert.False(t, got.IsPublic())
		assert.True(t, doc.Equal(got.CurrentDocument()))

		edited := metadata.MergePatch(doc, map[string]any{"basic": map[string]any{"title": "b"}})
		require.NoError(t, store.Assets().UpdateCurrentDocument(ctx, asset.ID, edited, base.Add(time.Hour)))
		require.NoError(t, store.Assets().UpdateVisibility(ctx, asset.ID, models.AssetVisibilityPublic, base.Add(time.Hour)))

		got, err = store.Assets().FindByID(ctx, asset.ID)
		require.NoError(t, err)
		assert.Equal(t, "b", got.CurrentDocument().Section(metadata.SectionBasic)["title"])
		assert.True(t, got.IsPublic())
		assert.True(t, got.UpdatedAt.Equal(base.Add(time.Hour)))

		_, err = store.Assets().FindByID(ctx, uuid.New())
		assert.True(t, apperr.NotFound.Has(err))
		assert.True(t, apperr.NotFound.Has(store.Assets().UpdateCurrentDocument(ctx, uuid.New(), edited, base)))
	})
}

func TestVersions_AppendAndList(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		asset := newAsset("u1", false, base, metadata.NewDocument())
		require.NoError(t, store.Assets().Create(ctx, asset))

		// two versions share a timestamp; seq breaks the tie
		times := []time.Time{base, base.Add(time.Minute), base.Add(time.Minute)}
		var ids []uuid.UUID
		for i, at := range times {
			seq, err := store.Versions().NextSeq(ctx, asset.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(i+1), seq)

			v := &models.MetadataVersion{
				AssetID:    asset.ID,
				Seq:        seq,
				AuthorID:   "u1",
				ChangeType: models.ChangeEdit,
				Document:   datatypes.JSONMap{"basic": map[string]any{"title": fmt.Sprint(i)}},
				CreatedAt:  at,
			}
			require.NoError(t, store.Versions().Create(ctx, v))
			ids = append(ids, v.ID)
		}

		list, err := store.Versions().List(ctx, asset.ID, 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []uuid.UUID{ids[2], ids[1], ids[0]}, []uuid.UUID{list[0].ID, list[1].ID, list[2].ID})

		page, err := store.Versions().List(ctx, asset.ID, 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, ids[1], page[0].ID)

		total, err := store.Versions().Count(ctx, asset.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)

		v, err := store.Versions().FindByID(ctx, asset.ID, ids[0])
		require.NoError(t, err)
		assert.Equal(t, "0", v.Snapshot().Section(metadata.SectionBasic)["title"])

		_, err = store.Versions().FindByID(ctx, uuid.New(), ids[0])
		assert.True(t, apperr.NotFound.Has(err))

		dup := &models.MetadataVersion{AssetID: asset.ID, Seq: 1, ChangeType: models.ChangeEdit, Document: datatypes.JSONMap{}}
		assert.Error(t, store.Versions().Create(ctx, dup))
	})
}

func TestAssets_DeleteCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		asset := newAsset("u1", false, base, metadata.NewDocument())
		require.NoError(t, store.Assets().Create(ctx, asset))
		require.NoError(t, store.Versions().Create(ctx, &models.MetadataVersion{
			AssetID: asset.ID, Seq: 1, ChangeType: models.ChangeInitial, Document: datatypes.JSONMap{}, CreatedAt: base,
		}))

		require.NoError(t, store.Assets().Delete(ctx, asset.ID))

		total, err := store.Versions().Count(ctx, asset.ID)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.True(t, apperr.NotFound.Has(store.Assets().Delete(ctx, asset.ID)))
	})
}

func TestTransaction_RollsBack(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		asset := newAsset("u1", false, base, metadata.Document{"basic": map[string]any{"title": "before"}})
		require.NoError(t, store.Assets().Create(ctx, asset))

		boom := errors.New("boom")
		err := store.Transaction(ctx, func(tx Store) error {
			require.NoError(t, tx.Versions().Create(ctx, &models.MetadataVersion{
				AssetID: asset.ID, Seq: 1, ChangeType: models.ChangeEdit, Document: datatypes.JSONMap{}, CreatedAt: base,
			}))
			require.NoError(t, tx.Assets().UpdateCurrentDocument(ctx, asset.ID,
				metadata.Document{"basic": map[string]any{"title": "after"}}, base))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := store.Assets().FindByID(ctx, asset.ID)
		require.NoError(t, err)
		assert.Equal(t, "before", got.CurrentDocument().Section(metadata.SectionBasic)["title"])
		total, err := store.Versions().Count(ctx, asset.ID)
		require.NoError(t, err)
		assert.Zero(t, total)

		require.NoError(t, store.Transaction(ctx, func(tx Store) error {
			return tx.Assets().UpdateCurrentDocument(ctx, asset.ID,
				metadata.Document{"basic": map[string]any{"title": "after"}}, base)
		}))
		got, err = store.Assets().FindByID(ctx, asset.ID)
		require.NoError(t, err)
		assert.Equal(t, "after", got.CurrentDocument().Section(metadata.SectionBasic)["title"])
	})
}

// searchFixture stores a small collection and returns the asset ids by name.
func searchFixture(t *testing.T, store Store) map[string]uuid.UUID {
	t.Helper()
	ctx := context.Background()
	fixtures := []struct {
		name   string
		owner  string
		public bool
		doc    metadata.Document
	}{
		{
			name: "beach", owner: "alice", public: true,
			doc: metadata.Normalize(
				metadata.Fields{metadata.FieldMake: "Canon", metadata.FieldISO: 100, metadata.FieldCaptureDate: "2024-01-01T23:59:00Z"},
				metadata.UserFields{Title: "Sunset at the Beach", Tags: []string{"beach", "summer"}, Custom: map[string]any{"rating": 5, "flag": true}},
			),
		},
		{
			name: "mountain", owner: "alice", public: false,
			doc: metadata.Normalize(
				metadata.Fields{metadata.FieldMake: "Nikon", metadata.FieldISO: 400, metadata.FieldCaptureDate: "2024-01-02T00:00:01Z"},
				metadata.UserFields{Title: "Mountain 100% view", Description: "snow_cap", Tags: []string{"winter"}, Custom: map[string]any{"rating": "5"}},
			),
		},
		{
			name: "city", owner: "bob", public: false,
			doc: metadata.Normalize(
				metadata.Fields{metadata.FieldMake: "Canon"},
				metadata.UserFields{Title: "City lights", Description: "Nacht in MÜNCHEN", Tags: []string{"night", "beach"}, Custom: map[string]any{"colors": []any{"red", "blue"}}},
			),
		},
	}

	ids := map[string]uuid.UUID{}
	for i, f := range fixtures {
		asset := newAsset(f.owner, f.public, base.Add(time.Duration(i)*time.Hour), f.doc)
		require.NoError(t, store.Assets().Create(ctx, asset))
		ids[f.name] = asset.ID
	}
	return ids
}

func TestFindMany_FilterSemantics(t *testing.T) {
	tests := []struct {
		name string
		req  query.Request
		want []string
	}{
		{"public only", query.Request{}, []string{"beach"}},
		{"owner sees own and public", query.Request{Scope: query.Scope{OwnerID: "alice"}}, []string{"beach", "mountain"}},
		{"other owner", query.Request{Scope: query.Scope{OwnerID: "bob"}}, []string{"beach", "city"}},
		{"text title case insensitive", query.Request{Text: "SUNSET", Scope: query.Scope{OwnerID: "alice"}}, []string{"beach"}},
		{"text non-ascii case insensitive", query.Request{Text: "München", Scope: query.Scope{OwnerID: "bob"}}, []string{"city"}},
		{"text in tag", query.Request{Text: "wint", Scope: query.Scope{OwnerID: "alice"}}, []string{"mountain"}},
		{"text wildcard is literal", query.Request{Text: "100%", Scope: query.Scope{OwnerID: "alice"}}, []string{"mountain"}},
		{"text underscore is literal", query.Request{Text: "s_ow", Scope: query.Scope{OwnerID: "alice"}}, nil},
		{"text underscore matches itself", query.Request{Text: "snow_c", Scope: query.Scope{OwnerID: "alice"}}, []string{"mountain"}},
		{"equal string", query.Request{Fields: map[string]any{"camera.make": "Canon"}, Scope: query.Scope{OwnerID: "bob"}}, []string{"beach", "city"}},
		{"equal number", query.Request{Fields: map[string]any{"camera.iso": 400}, Scope: query.Scope{OwnerID: "alice"}}, []string{"mountain"}},
		{"number is not string", query.Request{Fields: map[string]any{"rating": 5}, Scope: query.Scope{OwnerID: "alice"}}, []string{"beach"}},
		{"string is not number", query.Request{Fields: map[string]any{"rating": "5"}, Scope: query.Scope{OwnerID: "alice"}}, []string{"mountain"}},
		{"bool", query.Request{Fields: map[string]any{"flag": true}, Scope: query.Scope{OwnerID: "alice"}}, []string{"beach"}},
		{"tags any of", query.Request{Fields: map[string]any{"tags": []any{"winter", "night"}}, Scope: query.Scope{OwnerID: "alice"}}, []string{"mountain"}},
		{"tag scalar", query.Request{Fields: map[string]any{"tags": "beach"}, Scope: query.Scope{OwnerID: "bob"}}, []string{"beach", "city"}},
		{"list value on scalar field", query.Request{Fields: map[string]any{"camera.make": []any{"Nikon", "Leica"}}, Scope: query.Scope{OwnerID: "alice"}}, []string{"mountain"}},
		{"list value on list field", query.Request{Fields: map[string]any{"colors": []any{"blue"}}, Scope: query.Scope{OwnerID: "bob"}}, []string{"city"}},
		{"equal against list field", query.Request{Fields: map[string]any{"colors": "red"}, Scope: query.Scope{OwnerID: "bob"}}, nil},
		{"unknown path", query.Request{Fields: map[string]any{"custom.typo": "x"}, Scope: query.Scope{OwnerID: "bob"}}, nil},
		{"date inclusive to", query.Request{DateRange: &query.DateRange{From: "2024-01-01", To: "2024-01-01"}, Scope: query.Scope{OwnerID: "alice"}}, []string{"beach"}},
		{"date open from", query.Request{DateRange: &query.DateRange{From: "2024-01-02"}, Scope: query.Scope{OwnerID: "alice"}}, []string{"mountain"}},
	}

	forEachStore(t, func(t *testing.T, store Store) {
		ids := searchFixture(t, store)
		names := map[uuid.UUID]string{}
		for name, id := range ids {
			names[id] = name
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f, err := query.Build(tt.req)
				require.NoError(t, err)

				assets, err := store.Assets().FindMany(context.Background(), f, query.NewPage(50, 0, query.Sort{Field: query.SortCreatedAt}))
				require.NoError(t, err)
				var got []string
				for _, a := range assets {
					got = append(got, names[a.ID])
				}
				assert.Equal(t, tt.want, got)

				total, err := store.Assets().Count(context.Background(), f)
				require.NoError(t, err)
				assert.Equal(t, int64(len(tt.want)), total)
			})
		}
	})
}

func TestFindMany_SortAndPage(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		var ids []uuid.UUID
		for i := 0; i < 5; i++ {
			asset := newAsset("u", true, base.Add(time.Duration(i)*time.Minute), metadata.NewDocument())
			require.NoError(t, store.Assets().Create(ctx, asset))
			ids = append(ids, asset.ID)
		}
		f, err := query.Build(query.Request{})
		require.NoError(t, err)

		page, err := store.Assets().FindMany(ctx, f, query.NewPage(2, 1, query.DefaultSort))
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[3], page[0].ID)
		assert.Equal(t, ids[2], page[1].ID)

		page, err = store.Assets().FindMany(ctx, f, query.NewPage(2, 4, query.Sort{Field: query.SortCreatedAt}))
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, ids[4], page[0].ID)

		page, err = store.Assets().FindMany(ctx, f, query.NewPage(2, 10, query.DefaultSort))
		require.NoError(t, err)
		assert.Empty(t, page)
	})
}
