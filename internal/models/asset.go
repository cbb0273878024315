package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/synesthesie/imagemeta/internal/metadata"
)

type AssetVisibility string

const (
	AssetVisibilityPrivate AssetVisibility = "private"
	AssetVisibilityPublic  AssetVisibility = "public"
)

// VisibilityOf maps the public flag onto the stored visibility.
func VisibilityOf(isPublic bool) AssetVisibility {
	if isPublic {
		return AssetVisibilityPublic
	}
	return AssetVisibilityPrivate
}

// Asset represents a stored image together with its current metadata document
type Asset struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID    string          `gorm:"size:128;not null;index" json:"owner_id"`
	Key        string          `gorm:"size:512;index" json:"key"` // storage path
	Filename   string          `gorm:"size:255" json:"filename"`
	MimeType   string          `gorm:"size:120" json:"mime_type"`
	SizeBytes  int64           `json:"size_bytes"`
	Checksum   string          `gorm:"size:128" json:"checksum"`
	Visibility AssetVisibility `gorm:"size:16;default:private;index" json:"visibility"`

	// Document is the current metadata document.
	Document datatypes.JSONMap `gorm:"not null" json:"document"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

func (a *Asset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Visibility == "" {
		a.Visibility = AssetVisibilityPrivate
	}
	return nil
}

// IsPublic reports whether everyone may read the asset.
func (a *Asset) IsPublic() bool {
	return a.Visibility == AssetVisibilityPublic
}

// CurrentDocument returns the current document in canonical form.
func (a *Asset) CurrentDocument() metadata.Document {
	return metadata.CanonicalDocument(a.Document)
}
