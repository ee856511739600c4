package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"
)

// Free accounts may watch pro titles once they are older than this.
const proGracePeriod = 3 * 30 * 24 * time.Hour

// Movie is a streamable title backed by an immutable media blob. The blob
// descriptor (key, size, content type) never changes after upload.
type Movie struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	UserID         uint           `gorm:"not null;index" json:"user_id"`
	Title          string         `gorm:"type:varchar(255);not null" json:"title" validate:"required,max=255"`
	Description    string         `gorm:"type:text" json:"description" validate:"required"`
	ReleaseDate    time.Time      `gorm:"type:timestamp;not null" json:"release_date"`
	IsPro          bool           `gorm:"default:false;index" json:"is_pro"`
	StorageKey     string         `gorm:"type:varchar(255);not null;uniqueIndex" json:"storage_key" validate:"required"`
	StorageBackend string         `gorm:"type:varchar(20);not null;default:'local'" json:"storage_backend" validate:"oneof=local s3"`
	ContentType    string         `gorm:"type:varchar(100);not null;default:'video/mp4'" json:"content_type"`
	FileSize       int64          `gorm:"not null" json:"file_size"`
	ViewCount      int64          `gorm:"default:0" json:"view_count"`
	SeriesID       *uint          `gorm:"index;default:null" json:"series_id,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (m *Movie) Validate() error {
	v := validator.New()

	return v.Struct(m)
}

// ViewableBy is the policy hook consumed by the routing layer before any
// streaming work starts. Admin and pro accounts see everything; free
// accounts see free titles plus pro titles past the grace period.
func (m *Movie) ViewableBy(user *User) bool {
	if user == nil {
		return false
	}
	if user.Admin() || user.Pro() {
		return true
	}
	if !m.IsPro {
		return true
	}
	return time.Since(m.ReleaseDate) >= proGracePeriod
}

func FindMovieByID(db *gorm.DB, id uint) (*Movie, error) {
	var m Movie
	if err := db.First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
