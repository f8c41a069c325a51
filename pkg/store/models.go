package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	Name         string
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

// PlantModel rows are keyed by (UserID, ID): plant ids are unique only
// within their owner's collection.
type PlantModel struct {
	UserID           string `gorm:"primaryKey"`
	ID               string `gorm:"primaryKey"`
	Name             string `gorm:"not null"`
	WateringInterval int    `gorm:"not null;default:1"`
	LastWateringDate *time.Time
	ImgSrc           string
	ImageKey         string
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// WateringModel rows carry no foreign key to their plant. Removing them
// when the plant goes away is the cascade worker's job.
type WateringModel struct {
	UserID       string    `gorm:"primaryKey"`
	PlantID      string    `gorm:"primaryKey"`
	ID           string    `gorm:"primaryKey"`
	WateringDate time.Time `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
}
