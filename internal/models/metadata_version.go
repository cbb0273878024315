package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/synesthesie/imagemeta/internal/metadata"
)

// ChangeType names the mutation that produced a version.
type ChangeType string

const (
	ChangeInitial ChangeType = "initial"
	ChangeEdit    ChangeType = "edit"
	ChangeStrip   ChangeType = "strip"
	ChangeRestore ChangeType = "restore"
)

// Valid reports whether c is a known change type.
func (c ChangeType) Valid() bool {
	switch c {
	case ChangeInitial, ChangeEdit, ChangeStrip, ChangeRestore:
		return true
	}
	return false
}

// MetadataVersion is an immutable snapshot of an asset's document taken
// before a mutation replaced it. Versions are never updated; they are only
// removed together with their asset.
type MetadataVersion struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"version_id"`
	AssetID     uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_versions_asset_seq,priority:1" json:"asset_id"`
	Seq         int64             `gorm:"not null;uniqueIndex:idx_versions_asset_seq,priority:2" json:"seq"`
	AuthorID    string            `gorm:"size:128" json:"author_id"`
	ChangeType  ChangeType        `gorm:"size:16;not null" json:"change_type"`
	Description string            `gorm:"size:1000" json:"description"`
	Document    datatypes.JSONMap `gorm:"not null" json:"document"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`

	// Relation to Asset, used for cascading deletes
	Asset *Asset `gorm:"foreignKey:AssetID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeCreate generates a UUID if not set
func (v *MetadataVersion) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// BeforeUpdate rejects any change to a stored version.
func (v *MetadataVersion) BeforeUpdate(tx *gorm.DB) error {
	return gorm.ErrInvalidData
}

// Snapshot returns the stored document in canonical form.
func (v *MetadataVersion) Snapshot() metadata.Document {
	return metadata.CanonicalDocument(v.Document)
}
