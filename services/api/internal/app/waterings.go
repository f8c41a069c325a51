package app

import (
	"context"
	"fmt"
	"time"

	"plantcare/internal/util"
	"plantcare/pkg/domain"
	"plantcare/pkg/schedule"
)

// WaterNow records a watering stamped with the current time.
func (a *App) WaterNow(ctx context.Context, user domain.User, plantID string) (domain.Watering, error) {
	return a.addWatering(ctx, user, plantID, a.now())
}

// AddWatering records a watering at a user chosen time, past or future.
func (a *App) AddWatering(ctx context.Context, user domain.User, plantID string, at time.Time) (domain.Watering, error) {
	if at.IsZero() {
		return domain.Watering{}, invalid("wateringDate", ErrWateringDateRequired)
	}
	return a.addWatering(ctx, user, plantID, at)
}

func (a *App) addWatering(ctx context.Context, user domain.User, plantID string, at time.Time) (domain.Watering, error) {
	ref, err := a.plantRef(user, plantID)
	if err != nil {
		return domain.Watering{}, err
	}
	if _, err := a.loadPlant(ctx, ref); err != nil {
		return domain.Watering{}, err
	}
	watering := domain.Watering{
		ID:           util.NewID(),
		PlantID:      ref.PlantID,
		OwnerID:      ref.UserID,
		WateringDate: at.UTC(),
		CreatedAt:    a.now().UTC(),
	}
	if err := a.store.AddWatering(ctx, watering); err != nil {
		return domain.Watering{}, fmt.Errorf("add watering: %w", err)
	}
	if err := a.syncLastWatering(ctx, ref); err != nil {
		return domain.Watering{}, err
	}
	return watering, nil
}

// ListWaterings returns the plant's waterings, newest first.
func (a *App) ListWaterings(ctx context.Context, user domain.User, plantID string) ([]domain.Watering, error) {
	ref, err := a.plantRef(user, plantID)
	if err != nil {
		return nil, err
	}
	if _, err := a.loadPlant(ctx, ref); err != nil {
		return nil, err
	}
	waterings, err := a.store.ListWaterings(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("list waterings: %w", err)
	}
	return waterings, nil
}

// DeleteWatering removes one watering and re-derives the plant's last
// watering date from the remaining ones.
func (a *App) DeleteWatering(ctx context.Context, user domain.User, plantID, wateringID string) error {
	ref, err := a.plantRef(user, plantID)
	if err != nil {
		return err
	}
	ok, err := a.store.DeleteWatering(ctx, ref, wateringID)
	if err != nil {
		return fmt.Errorf("delete watering: %w", err)
	}
	if !ok {
		return ErrWateringNotFound
	}
	return a.syncLastWatering(ctx, ref)
}

// syncLastWatering stores the latest watering date on the plant, or clears
// it when no waterings remain.
func (a *App) syncLastWatering(ctx context.Context, ref domain.PlantRef) error {
	waterings, err := a.store.ListWaterings(ctx, ref)
	if err != nil {
		return fmt.Errorf("list waterings: %w", err)
	}
	if err := a.store.SetLastWateringDate(ctx, ref, schedule.LastWatering(waterings)); err != nil {
		return fmt.Errorf("set last watering: %w", err)
	}
	return nil
}
