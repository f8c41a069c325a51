package domain

import (
	"fmt"
	"strings"
)

// PlantRef identifies a plant record inside its owner's tree.
type PlantRef struct {
	UserID  string
	PlantID string
}

// UserPath returns users/{uid}.
func UserPath(userID string) string {
	return "users/" + userID
}

// Path returns users/{uid}/plants/{pid}.
func (r PlantRef) Path() string {
	return fmt.Sprintf("users/%s/plants/%s", r.UserID, r.PlantID)
}

// WateringsPath returns the path of the plant's waterings collection.
func (r PlantRef) WateringsPath() string {
	return r.Path() + "/waterings"
}

// WateringPath returns the path of a single watering under the plant.
func (r PlantRef) WateringPath(wateringID string) string {
	return r.WateringsPath() + "/" + wateringID
}

// ImageKey returns the blob key of the plant's photo.
func (r PlantRef) ImageKey() string {
	return r.UserID + "/" + r.PlantID
}

// ParsePlantPath parses exactly users/{uid}/plants/{pid}. Any other shape,
// including deeper descendants, is rejected.
func ParsePlantPath(path string) (PlantRef, error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(path), "/"), "/")
	if len(parts) != 4 || parts[0] != "users" || parts[2] != "plants" {
		return PlantRef{}, fmt.Errorf("not a plant path: %q", path)
	}
	if parts[1] == "" || parts[3] == "" {
		return PlantRef{}, fmt.Errorf("not a plant path: %q", path)
	}
	return PlantRef{UserID: parts[1], PlantID: parts[3]}, nil
}

// IsUnder reports whether path equals root or is nested below it.
func IsUnder(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+"/")
}
