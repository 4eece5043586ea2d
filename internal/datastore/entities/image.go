package entities

import "time"

// Image is an uploaded image. Rows flagged ReadyForTraining are claimed by the
// next training run of their type and deleted once that run is decided.
type Image struct {
	ID               uint      `gorm:"primaryKey"`
	Path             string    `gorm:"size:1024;not null"`
	TypeID           uint      `gorm:"index:idx_images_ready,priority:1;not null"`
	Extension        string    `gorm:"size:16"`
	ReadyForTraining bool      `gorm:"index:idx_images_ready,priority:2;not null;default:false"`
	CreatedAt        time.Time `gorm:"not null"`
	Title            *string   `gorm:"type:text"` // free-text payload, e.g. recognized text
	StatusID         *uint

	Type   *ModelType `gorm:"foreignKey:TypeID"`
	Status *Status    `gorm:"foreignKey:StatusID"`
}

// TableName returns the table name for GORM.
func (Image) TableName() string {
	return "images"
}

// DetectionObject is a labeled bounding box in image pixel coordinates.
type DetectionObject struct {
	ID         uint    `gorm:"primaryKey"`
	Name       string  `gorm:"size:128;not null"`
	Confidence float64 `gorm:"not null;default:0"`
	X1         float64 `gorm:"column:x1;not null"`
	Y1         float64 `gorm:"column:y1;not null"`
	X2         float64 `gorm:"column:x2;not null"`
	Y2         float64 `gorm:"column:y2;not null"`
	StatusID   *uint

	Status *Status `gorm:"foreignKey:StatusID"`
}

// TableName returns the table name for GORM.
func (DetectionObject) TableName() string {
	return "objects"
}

// ImageObjectLink joins images and detection objects.
type ImageObjectLink struct {
	ImageID  uint `gorm:"primaryKey;autoIncrement:false"`
	ObjectID uint `gorm:"primaryKey;autoIncrement:false;index"`
}

// TableName returns the table name for GORM.
func (ImageObjectLink) TableName() string {
	return "image_object_links"
}
