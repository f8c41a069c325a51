// Package cascade removes everything that hangs off a plant once the plant
// record itself is gone.
package cascade

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"plantcare/pkg/domain"
)

// SubtreeStore deletes the records nested under a plant.
type SubtreeStore interface {
	DeletePlantSubtree(ctx context.Context, ref domain.PlantRef) (int64, error)
}

// BlobDeleter removes a stored object. Missing objects are not an error.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// DeletionError reports a cascade that did not complete. UserID and PlantID
// are empty when the triggering path could not be parsed.
type DeletionError struct {
	Path    string
	UserID  string
	PlantID string
	Err     error
}

func (e *DeletionError) Error() string {
	if e.PlantID == "" {
		return fmt.Sprintf("cascade delete %q: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("cascade delete plant %s: %v", e.PlantID, e.Err)
}

func (e *DeletionError) Unwrap() error { return e.Err }

// Policy deletes a plant's waterings and its photo.
type Policy struct {
	store   SubtreeStore
	objects BlobDeleter
}

func NewPolicy(store SubtreeStore, objects BlobDeleter) *Policy {
	return &Policy{store: store, objects: objects}
}

// OnParentDeleted cleans up after the plant at path was deleted. The
// waterings and the photo are removed concurrently; an empty sub-tree or a
// missing photo is fine, so repeated calls are harmless. Failures are logged
// and returned as *DeletionError, never retried here.
func (p *Policy) OnParentDeleted(ctx context.Context, path string) error {
	ref, err := domain.ParsePlantPath(path)
	if err != nil {
		slog.Error("cascade delete rejected", "path", path, "err", err)
		return &DeletionError{Path: path, Err: err}
	}

	var removed int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := p.store.DeletePlantSubtree(gctx, ref)
		if err != nil {
			return fmt.Errorf("delete waterings: %w", err)
		}
		removed = n
		return nil
	})
	if p.objects != nil {
		g.Go(func() error {
			if err := p.objects.Delete(gctx, ref.ImageKey()); err != nil {
				return fmt.Errorf("delete image: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("cascade delete failed", "user_id", ref.UserID, "plant_id", ref.PlantID, "err", err)
		return &DeletionError{Path: path, UserID: ref.UserID, PlantID: ref.PlantID, Err: err}
	}
	slog.Info("cascade delete done", "user_id", ref.UserID, "plant_id", ref.PlantID, "removed", removed)
	return nil
}
