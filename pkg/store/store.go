package store

import (
	"context"
	"time"

	"plantcare/pkg/domain"
)

// Store defines persistence operations for users, plants, and waterings.
// Plant and watering operations are always scoped to the owning user.
type Store interface {
	// users
	SaveUser(ctx context.Context, u domain.User) error
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	UpdateUserName(ctx context.Context, id, name string) error

	// plants
	CreatePlant(ctx context.Context, p domain.Plant) error
	GetPlant(ctx context.Context, ref domain.PlantRef) (domain.Plant, bool, error)
	ListPlants(ctx context.Context, ownerID string) ([]domain.Plant, error)
	UpdatePlant(ctx context.Context, ref domain.PlantRef, patch PlantPatch) (domain.Plant, bool, error)
	SetLastWateringDate(ctx context.Context, ref domain.PlantRef, last *time.Time) error
	DeletePlant(ctx context.Context, ref domain.PlantRef) (bool, error)

	// waterings
	AddWatering(ctx context.Context, w domain.Watering) error
	ListWaterings(ctx context.Context, ref domain.PlantRef) ([]domain.Watering, error)
	DeleteWatering(ctx context.Context, ref domain.PlantRef, wateringID string) (bool, error)
	DeletePlantSubtree(ctx context.Context, ref domain.PlantRef) (int64, error)
}

// PlantPatch is a partial update; nil fields are left unchanged.
type PlantPatch struct {
	Name             *string
	WateringInterval *int
	ImgSrc           *string
	ImageKey         *string
}

// IsEmpty reports whether the patch changes nothing.
func (p PlantPatch) IsEmpty() bool {
	return p.Name == nil && p.WateringInterval == nil && p.ImgSrc == nil && p.ImageKey == nil
}

// SessionStore issues and validates session tokens.
type SessionStore interface {
	NewSession(ctx context.Context, userID string) (string, error)
	GetUserIDByToken(ctx context.Context, token string) (string, bool, error)
	DeleteSession(ctx context.Context, token string) error
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user up to a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID string, since time.Time) error
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSProvider is an optional capability exposed by session stores that can
// publish JSON Web Keys.
type JWKSProvider interface {
	JWKS() []JWK
}
