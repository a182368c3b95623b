package db

import (
	"context"
	"errors"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

var (
	ErrDocumentMissing = errors.New("dispatch document does not exist")
	ErrAlreadyExists   = errors.New("dispatch document already exists")
	ErrConflict        = errors.New("dispatch document was modified concurrently")
	ErrNilCollection   = errors.New("mongo collection is nil")
)

// SnapshotStore persists the shared fleet document.
type SnapshotStore interface {
	// Load returns the current document or ErrDocumentMissing.
	Load(ctx context.Context) (*models.FleetSnapshot, error)
	// Initialize creates the document at revision 1. It fails with
	// ErrAlreadyExists when one is already stored.
	Initialize(ctx context.Context, snap models.FleetSnapshot) error
	// Write replaces vehicles and tx if the stored revision still equals
	// expectedRevision, returning the new revision.
	Write(ctx context.Context, snap models.FleetSnapshot, expectedRevision int64) (int64, error)
	// Subscribe delivers the current document and then every change until ctx
	// ends or the returned func is called. A nil snapshot means the document
	// is absent.
	Subscribe(ctx context.Context, onSnapshot func(*models.FleetSnapshot), onError func(error)) func()
}

// UserCollection defines the interface for user database operations
type UserCollection interface {
	InsertUser(ctx context.Context, user models.User) error
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, id string, user models.User) error
	UpdateLastLogin(ctx context.Context, id string) error
}
