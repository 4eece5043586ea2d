package entities

// ModelType is a named detection task with its own weights and workspace.
type ModelType struct {
	ID    uint   `gorm:"primaryKey"`
	Title string `gorm:"size:64;uniqueIndex;not null"`
}

// TableName returns the table name for GORM.
func (ModelType) TableName() string {
	return "types"
}
