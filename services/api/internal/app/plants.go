package app

import (
	"context"
	"fmt"
	"strings"

	"plantcare/internal/util"
	"plantcare/pkg/domain"
	"plantcare/pkg/schedule"
	"plantcare/pkg/store"
)

// PlantView is a plant with its schedule evaluated at request time.
type PlantView struct {
	domain.Plant
	Schedule schedule.View `json:"schedule"`
}

// PlantInput carries the editable plant fields. Nil fields are unchanged.
type PlantInput struct {
	Name             *string
	WateringInterval *int
}

func (a *App) view(p domain.Plant) PlantView {
	return PlantView{Plant: p, Schedule: a.schedule.Describe(p)}
}

// ListPlants returns the user's plants, soonest watering first.
func (a *App) ListPlants(ctx context.Context, user domain.User) ([]PlantView, error) {
	plants, err := a.store.ListPlants(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list plants: %w", err)
	}
	a.schedule.SortByNextWatering(plants)
	out := make([]PlantView, 0, len(plants))
	for _, p := range plants {
		out = append(out, a.view(p))
	}
	return out, nil
}

func (a *App) GetPlant(ctx context.Context, user domain.User, plantID string) (PlantView, error) {
	ref, err := a.plantRef(user, plantID)
	if err != nil {
		return PlantView{}, err
	}
	plant, err := a.loadPlant(ctx, ref)
	if err != nil {
		return PlantView{}, err
	}
	return a.view(plant), nil
}

// CreatePlant adds a plant. The interval defaults to the minimum.
func (a *App) CreatePlant(ctx context.Context, user domain.User, in PlantInput) (PlantView, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return PlantView{}, err
	}
	interval := domain.MinWateringInterval
	if in.WateringInterval != nil {
		if interval, err = validateInterval(*in.WateringInterval); err != nil {
			return PlantView{}, err
		}
	}
	now := a.now().UTC()
	plant := domain.Plant{
		ID:               util.NewID(),
		OwnerID:          user.ID,
		Name:             name,
		WateringInterval: interval,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := a.store.CreatePlant(ctx, plant); err != nil {
		return PlantView{}, fmt.Errorf("create plant: %w", err)
	}
	return a.view(plant), nil
}

// UpdatePlant commits edited name and interval values.
func (a *App) UpdatePlant(ctx context.Context, user domain.User, plantID string, in PlantInput) (PlantView, error) {
	ref, err := a.plantRef(user, plantID)
	if err != nil {
		return PlantView{}, err
	}
	var patch store.PlantPatch
	if in.Name != nil {
		name, err := validateName(in.Name)
		if err != nil {
			return PlantView{}, err
		}
		patch.Name = &name
	}
	if in.WateringInterval != nil {
		interval, err := validateInterval(*in.WateringInterval)
		if err != nil {
			return PlantView{}, err
		}
		patch.WateringInterval = &interval
	}
	if patch.IsEmpty() {
		return PlantView{}, invalid("", ErrNothingToUpdate)
	}
	plant, ok, err := a.store.UpdatePlant(ctx, ref, patch)
	if err != nil {
		return PlantView{}, fmt.Errorf("update plant: %w", err)
	}
	if !ok {
		return PlantView{}, ErrPlantNotFound
	}
	return a.view(plant), nil
}

// DeletePlant removes the plant record. Its waterings and photo are removed
// afterwards by the cascade service.
func (a *App) DeletePlant(ctx context.Context, user domain.User, plantID string) error {
	ref, err := a.plantRef(user, plantID)
	if err != nil {
		return err
	}
	ok, err := a.store.DeletePlant(ctx, ref)
	if err != nil {
		return fmt.Errorf("delete plant: %w", err)
	}
	if !ok {
		return ErrPlantNotFound
	}
	return nil
}

func validateName(name *string) (string, error) {
	if name == nil {
		return "", invalid("name", ErrNameRequired)
	}
	trimmed := strings.TrimSpace(*name)
	if trimmed == "" {
		return "", invalid("name", ErrNameRequired)
	}
	return trimmed, nil
}

func validateInterval(days int) (int, error) {
	if days < domain.MinWateringInterval {
		return 0, invalid("wateringInterval", ErrInvalidWateringInterval)
	}
	return days, nil
}
