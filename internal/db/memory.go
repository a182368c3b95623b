package db

import (
	"context"
	"sync"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// MemorySnapshotStore is an in-process SnapshotStore. Subscribers are called
// synchronously after every successful write.
type MemorySnapshotStore struct {
	mu          sync.Mutex
	snap        *models.FleetSnapshot
	subscribers map[int]func(*models.FleetSnapshot)
	nextID      int
}

// NewMemorySnapshotStore creates an empty store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{subscribers: make(map[int]func(*models.FleetSnapshot))}
}

// Load returns a copy of the stored snapshot.
func (s *MemorySnapshotStore) Load(ctx context.Context) (*models.FleetSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil, ErrDocumentMissing
	}
	return s.snap.Clone(), nil
}

// Initialize stores snap at revision 1.
func (s *MemorySnapshotStore) Initialize(ctx context.Context, snap models.FleetSnapshot) error {
	s.mu.Lock()
	if s.snap != nil {
		s.mu.Unlock()
		return ErrAlreadyExists
	}
	snap.Revision = 1
	s.snap = snap.Clone()
	s.mu.Unlock()

	s.publish()
	return nil
}

// Write replaces the stored collections when expectedRevision matches.
func (s *MemorySnapshotStore) Write(ctx context.Context, snap models.FleetSnapshot, expectedRevision int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.snap == nil {
		s.mu.Unlock()
		return 0, ErrDocumentMissing
	}
	if s.snap.Revision != expectedRevision {
		s.mu.Unlock()
		return 0, ErrConflict
	}
	next := s.snap.Clone()
	next.Vehicles = models.CloneVehicles(snap.Vehicles)
	next.Tx = append([]models.Transaction(nil), snap.Tx...)
	next.UpdatedAt = snap.UpdatedAt
	next.UpdatedBy = snap.UpdatedBy
	next.Revision = expectedRevision + 1
	s.snap = next
	s.mu.Unlock()

	s.publish()
	return next.Revision, nil
}

// Delete removes the document and notifies subscribers with nil.
func (s *MemorySnapshotStore) Delete() {
	s.mu.Lock()
	s.snap = nil
	s.mu.Unlock()
	s.publish()
}

// Subscribe registers onSnapshot and calls it with the current state before
// returning. onError is never called.
func (s *MemorySnapshotStore) Subscribe(ctx context.Context, onSnapshot func(*models.FleetSnapshot), onError func(error)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = onSnapshot
	current := s.snap.Clone()
	s.mu.Unlock()

	onSnapshot(current)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return unsubscribe
}

func (s *MemorySnapshotStore) publish() {
	s.mu.Lock()
	subs := make([]func(*models.FleetSnapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	current := s.snap
	s.mu.Unlock()

	for _, fn := range subs {
		fn(current.Clone())
	}
}
