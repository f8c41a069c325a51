package domain

import "time"

// MinWateringInterval is the smallest allowed number of days between waterings.
const MinWateringInterval = 1

type Urgency string

const (
	UrgencyOverdue         Urgency = "overdue"
	UrgencyRecentlyWatered Urgency = "recently_watered"
	UrgencyNeutral         Urgency = "neutral"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Plant is a user-owned plant. LastWateringDate is a projection of the
// plant's waterings and is nil until the first watering is recorded.
type Plant struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"ownerId"`
	Name             string     `json:"name"`
	WateringInterval int        `json:"wateringInterval"`
	LastWateringDate *time.Time `json:"lastWateringDate,omitempty"`
	ImgSrc           string     `json:"imgSrc,omitempty"`
	ImageKey         string     `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

type Watering struct {
	ID           string    `json:"id"`
	PlantID      string    `json:"plantId"`
	OwnerID      string    `json:"-"`
	WateringDate time.Time `json:"wateringDate"`
	CreatedAt    time.Time `json:"createdAt"`
}
