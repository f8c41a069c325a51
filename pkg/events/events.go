// Package events carries change notifications for records in the per-user
// document tree.
package events

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	Created   Kind = "created"
	Updated   Kind = "updated"
	Deleted   Kind = "deleted"
	SignedIn  Kind = "signed_in"
	SignedOut Kind = "signed_out"
	// Uploading is transient: it reports bytes written for a plant photo
	// and never changes the stored record.
	Uploading Kind = "uploading"
)

// Change describes one write to the record at Path.
type Change struct {
	Kind Kind      `json:"kind"`
	Path string    `json:"path"`
	At   time.Time `json:"at"`
	// Uploaded and Total are only set on Uploading changes.
	Uploaded int64 `json:"uploaded,omitempty"`
	Total    int64 `json:"total,omitempty"`
}

// NewChange stamps a change with the current time.
func NewChange(kind Kind, path string) Change {
	return Change{Kind: kind, Path: path, At: time.Now().UTC()}
}

// NewProgress reports an upload of uploaded out of total bytes at path.
func NewProgress(path string, uploaded, total int64) Change {
	c := NewChange(Uploading, path)
	c.Uploaded, c.Total = uploaded, total
	return c
}

// Publisher receives changes after they happened.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, change Change) error

func (f PublisherFunc) Publish(ctx context.Context, change Change) error {
	return f(ctx, change)
}

// Subscription delivers changes until closed or until its context ends.
type Subscription interface {
	C() <-chan Change
	Close() error
}

// Subscriber opens subscriptions on a record and everything below it.
type Subscriber interface {
	Subscribe(ctx context.Context, root string) (Subscription, error)
}

// Multi fans a change out to every publisher. All publishers are called even
// when some fail; the errors are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, change Change) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
