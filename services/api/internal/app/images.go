package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"plantcare/internal/util"
	"plantcare/pkg/domain"
	"plantcare/pkg/events"
	"plantcare/pkg/imaging"
	"plantcare/pkg/storage"
	"plantcare/pkg/store"
)

// ImagePath is the stable client-facing location of a plant photo.
func ImagePath(plantID string) string {
	return "/api/plants/" + plantID + "/image"
}

// SetPlantImage normalizes the upload to a square JPEG, stores it under the
// plant's image key and points the plant at it. Storage progress is
// published on the plant path for live subscribers and also passed to
// progress when it is non-nil.
func (a *App) SetPlantImage(ctx context.Context, user domain.User, plantID, contentType string, r io.Reader, progress storage.Progress) (PlantView, error) {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return PlantView{}, invalid("file", ErrNotAnImage)
	}
	ref, err := a.plantRef(user, plantID)
	if err != nil {
		return PlantView{}, err
	}
	if _, err := a.loadPlant(ctx, ref); err != nil {
		return PlantView{}, err
	}
	data, err := imaging.Normalize(r, a.image)
	if err != nil {
		if errors.Is(err, imaging.ErrNotAnImage) {
			return PlantView{}, invalid("file", ErrNotAnImage)
		}
		return PlantView{}, fmt.Errorf("resize image: %w", err)
	}
	key := ref.ImageKey()
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), imaging.ContentType, a.uploadProgress(ctx, ref, progress)); err != nil {
		return PlantView{}, fmt.Errorf("store image: %w", err)
	}
	src := fmt.Sprintf("%s?v=%d", ImagePath(ref.PlantID), a.now().UnixMilli())
	plant, ok, err := a.store.UpdatePlant(ctx, ref, store.PlantPatch{ImgSrc: &src, ImageKey: &key})
	if err != nil {
		return PlantView{}, fmt.Errorf("update plant: %w", err)
	}
	if !ok {
		// Deleted while uploading; the cascade may already have run.
		_ = a.objects.Delete(ctx, key)
		return PlantView{}, ErrPlantNotFound
	}
	return a.view(plant), nil
}

// uploadProgress publishes at most one change per whole percent, plus the
// final one.
func (a *App) uploadProgress(ctx context.Context, ref domain.PlantRef, next storage.Progress) storage.Progress {
	lastPercent := int64(-1)
	return func(uploaded, total int64) {
		if next != nil {
			next(uploaded, total)
		}
		if total <= 0 {
			return
		}
		percent := uploaded * 100 / total
		if percent == lastPercent {
			return
		}
		lastPercent = percent
		if err := a.publisher.Publish(ctx, events.NewProgress(ref.Path(), uploaded, total)); err != nil {
			util.LoggerFromContext(ctx).Warn("publish upload progress failed", "path", ref.Path(), "err", err)
		}
	}
}

// ImageURL returns a short lived download URL for the plant photo.
func (a *App) ImageURL(ctx context.Context, user domain.User, plantID string) (string, error) {
	ref, err := a.plantRef(user, plantID)
	if err != nil {
		return "", err
	}
	plant, err := a.loadPlant(ctx, ref)
	if err != nil {
		return "", err
	}
	if plant.ImageKey == "" {
		return "", ErrImageNotFound
	}
	url, err := a.objects.PresignGet(ctx, plant.ImageKey, a.imageURLTTL)
	if err != nil {
		return "", fmt.Errorf("presign image: %w", err)
	}
	return url, nil
}

// ClearPlantImage removes the photo and unsets it on the plant.
func (a *App) ClearPlantImage(ctx context.Context, user domain.User, plantID string) (PlantView, error) {
	ref, err := a.plantRef(user, plantID)
	if err != nil {
		return PlantView{}, err
	}
	plant, err := a.loadPlant(ctx, ref)
	if err != nil {
		return PlantView{}, err
	}
	if plant.ImageKey != "" {
		if err := a.objects.Delete(ctx, plant.ImageKey); err != nil {
			return PlantView{}, fmt.Errorf("delete image: %w", err)
		}
	}
	empty := ""
	plant, ok, err := a.store.UpdatePlant(ctx, ref, store.PlantPatch{ImgSrc: &empty, ImageKey: &empty})
	if err != nil {
		return PlantView{}, fmt.Errorf("update plant: %w", err)
	}
	if !ok {
		return PlantView{}, ErrPlantNotFound
	}
	return a.view(plant), nil
}
