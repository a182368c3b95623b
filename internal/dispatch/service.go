package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-dispatch/internal/auth"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/fleet"
	"github.com/ukydev/fleet-dispatch/internal/metrics"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// MaxWriteAttempts bounds the reload-and-retry loop on write conflicts.
const MaxWriteAttempts = 3

var (
	ErrForbidden         = errors.New("not allowed to perform this action")
	ErrNotReady          = errors.New("fleet state not loaded yet")
	ErrTooManyConflicts  = errors.New("gave up after repeated write conflicts")
	ErrVehicleNotVisible = errors.New("vehicle not in current snapshot")
)

// Operation computes the next fleet state from a base state.
type Operation func(st fleet.State) (*fleet.Result, error)

// CommitHook is called after an operation is durably written. Hooks run on
// the caller's goroutine and should not block.
type CommitHook func(ctx context.Context, entry models.Transaction)

// Service keeps a local mirror of the shared fleet document and applies
// operations to it with conditional writes.
type Service struct {
	store   db.SnapshotStore
	engine  *fleet.Engine
	policy  auth.Policy
	metrics *metrics.Metrics

	// writeMu serializes local operations so each one computes on the last
	// confirmed document.
	writeMu sync.Mutex

	mu         sync.RWMutex
	snap       *models.FleetSnapshot
	confirmed  *models.FleetSnapshot
	loaded     bool
	docMissing bool
	pending    bool
	lastErr    string

	listenerMu sync.Mutex
	listeners  map[int]func()
	nextID     int
	hooks      []CommitHook

	stop func()
}

// NewService wires the mirror to a store. m may be nil.
func NewService(store db.SnapshotStore, engine *fleet.Engine, policy auth.Policy, m *metrics.Metrics) *Service {
	return &Service{
		store:     store,
		engine:    engine,
		policy:    policy,
		metrics:   m,
		listeners: make(map[int]func()),
	}
}

// Engine returns the operation engine the service applies.
func (s *Service) Engine() *fleet.Engine { return s.engine }

// Policy returns the authorization policy.
func (s *Service) Policy() auth.Policy { return s.policy }

// Start subscribes the mirror to the store until ctx ends or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.stop = s.store.Subscribe(ctx, s.applyRemote, s.recordError)
}

// Stop ends the store subscription.
func (s *Service) Stop() {
	if s.stop != nil {
		s.stop()
	}
}

// OnCommit registers a hook run after every successful write.
func (s *Service) OnCommit(hook CommitHook) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Subscribe registers fn to be called after every mirror change. The
// returned func removes it.
func (s *Service) Subscribe(fn func()) func() {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Service) notify() {
	s.listenerMu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// applyRemote replaces the mirror with an authoritative snapshot. A nil
// snapshot means the document does not exist.
func (s *Service) applyRemote(snap *models.FleetSnapshot) {
	s.mu.Lock()
	if snap == nil {
		s.snap = nil
		s.confirmed = nil
		s.docMissing = true
	} else {
		s.snap = snap.Clone()
		s.confirmed = snap.Clone()
		s.docMissing = false
	}
	s.loaded = true
	s.pending = false
	s.lastErr = ""
	s.mu.Unlock()

	s.observeFleet()
	s.notify()
}

func (s *Service) recordError(err error) {
	log.WithFields(log.Fields{
		"error": err,
	}).Error("Fleet subscription error")

	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
	s.notify()
}

func (s *Service) observeFleet() {
	if s.metrics == nil {
		return
	}
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	if snap == nil {
		return
	}
	th := s.engine.Rules().Thresholds
	s.metrics.ObserveFleet(fleet.Count(th.Prioritize(snap.Vehicles, s.engine.Now())), len(snap.Tx))
}

// Snapshot returns a copy of the mirrored document as currently displayed,
// including an unconfirmed local change.
func (s *Service) Snapshot() (*models.FleetSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	return s.snap.Clone(), nil
}

// base returns the last document known to be stored.
func (s *Service) base() (*models.FleetSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	return s.confirmed.Clone(), nil
}

func (s *Service) readyLocked() error {
	switch {
	case !s.loaded:
		return ErrNotReady
	case s.docMissing || s.confirmed == nil:
		return db.ErrDocumentMissing
	}
	return nil
}

// Vehicle returns one vehicle from the mirror.
func (s *Service) Vehicle(id string) (models.Vehicle, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return models.Vehicle{}, err
	}
	v, ok := fleet.FindVehicle(snap.Vehicles, id)
	if !ok {
		return models.Vehicle{}, ErrVehicleNotVisible
	}
	return v, nil
}

// Execute authorizes identity for action, then applies op to the mirror and
// the store. Conflicting writes reload the stored document and recompute op
// on it, up to MaxWriteAttempts times.
func (s *Service) Execute(ctx context.Context, identity *models.Claims, action auth.Action, op Operation) (*fleet.Result, error) {
	if !s.policy.Authorize(identity, action) {
		s.metrics.ObserveOperation(string(action), "denied")
		return nil, ErrForbidden
	}

	res, err := s.write(ctx, identity, action, op)
	if err != nil {
		return nil, err
	}
	// Hooks run after writeMu is released and outlive a cancelled request.
	s.runHooks(context.WithoutCancel(ctx), res.Entry)
	return res, nil
}

// write runs the compute-and-write loop while holding writeMu.
func (s *Service) write(ctx context.Context, identity *models.Claims, action auth.Action, op Operation) (*fleet.Result, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for attempt := 1; attempt <= MaxWriteAttempts; attempt++ {
		base, err := s.base()
		if err != nil {
			s.metrics.ObserveOperation(string(action), "unavailable")
			return nil, err
		}

		res, err := op(fleet.State{Vehicles: base.Vehicles, Tx: base.Tx})
		if err != nil {
			s.metrics.ObserveOperation(string(action), "rejected")
			return nil, err
		}

		next := *base
		next.Vehicles = res.Vehicles
		next.Tx = res.Tx
		next.UpdatedAt = s.engine.Now()
		next.UpdatedBy = identity.Email
		s.applyOptimistic(&next)

		start := time.Now()
		rev, err := s.store.Write(ctx, next, base.Revision)
		s.metrics.ObserveWrite(time.Since(start))

		switch {
		case err == nil:
			s.confirm(&next, base.Revision, rev)
			s.metrics.ObserveOperation(string(action), "ok")
			return res, nil

		case errors.Is(err, db.ErrConflict):
			s.metrics.ObserveConflict()
			log.WithFields(log.Fields{
				"action":   action,
				"attempt":  attempt,
				"revision": base.Revision,
			}).Warn("Write conflict, reloading fleet document")
			if err := s.reload(ctx); err != nil {
				s.metrics.ObserveOperation(string(action), "error")
				return nil, err
			}

		case errors.Is(err, db.ErrDocumentMissing):
			s.applyRemote(nil)
			s.metrics.ObserveOperation(string(action), "unavailable")
			return nil, err

		default:
			s.mu.Lock()
			s.lastErr = err.Error()
			s.mu.Unlock()
			s.notify()
			log.WithFields(log.Fields{
				"action": action,
				"actor":  identity.Email,
				"error":  err,
			}).Error("Failed to write fleet document")
			s.metrics.ObserveOperation(string(action), "error")
			return nil, fmt.Errorf("failed to save fleet state: %w", err)
		}
	}

	s.metrics.ObserveOperation(string(action), "conflict")
	return nil, ErrTooManyConflicts
}

// applyOptimistic shows next immediately and marks it unconfirmed.
func (s *Service) applyOptimistic(next *models.FleetSnapshot) {
	s.mu.Lock()
	s.snap = next.Clone()
	s.pending = true
	s.mu.Unlock()
	s.notify()
}

// confirm promotes a written document to the confirmed base unless the
// subscription already delivered it or something newer.
func (s *Service) confirm(written *models.FleetSnapshot, baseRevision, newRevision int64) {
	s.mu.Lock()
	if s.confirmed != nil && s.confirmed.Revision == baseRevision {
		c := written.Clone()
		c.Revision = newRevision
		s.confirmed = c
		s.snap = c.Clone()
		s.pending = false
		s.lastErr = ""
	}
	s.mu.Unlock()
	s.observeFleet()
	s.notify()
}

func (s *Service) reload(ctx context.Context) error {
	snap, err := s.store.Load(ctx)
	if errors.Is(err, db.ErrDocumentMissing) {
		s.applyRemote(nil)
		return err
	}
	if err != nil {
		s.recordError(err)
		return fmt.Errorf("failed to reload fleet state: %w", err)
	}
	s.applyRemote(snap)
	return nil
}

func (s *Service) runHooks(ctx context.Context, entry models.Transaction) {
	s.listenerMu.Lock()
	hooks := append([]CommitHook(nil), s.hooks...)
	s.listenerMu.Unlock()
	for _, h := range hooks {
		h(ctx, entry)
	}
}

// Initialize creates the shared document with the fixed roster.
func (s *Service) Initialize(ctx context.Context, identity *models.Claims) error {
	if !s.policy.Authorize(identity, auth.ActionInitialize) {
		s.metrics.ObserveOperation(string(auth.ActionInitialize), "denied")
		return ErrForbidden
	}

	now := s.engine.Now()
	snap := models.FleetSnapshot{
		Vehicles:  fleet.InitialVehicles(),
		Tx:        []models.Transaction{},
		UpdatedAt: now,
		UpdatedBy: identity.Email,
		CreatedAt: now,
		CreatedBy: identity.Email,
	}
	if err := s.store.Initialize(ctx, snap); err != nil {
		s.metrics.ObserveOperation(string(auth.ActionInitialize), "error")
		return err
	}

	log.WithFields(log.Fields{
		"actor": identity.Email,
	}).Info("Fleet document initialized")
	s.metrics.ObserveOperation(string(auth.ActionInitialize), "ok")
	return s.reload(ctx)
}
