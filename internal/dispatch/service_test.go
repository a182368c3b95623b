package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-dispatch/internal/auth"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/fleet"
	"github.com/ukydev/fleet-dispatch/internal/metrics"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

var (
	testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	admin   = &models.Claims{Email: "admin@example.com", Role: models.RoleAdmin}
	viewer  = &models.Claims{Email: "viewer@example.com", Role: models.RoleViewer}
)

func newTestEngine() *fleet.Engine {
	return fleet.NewEngine(fleet.Rules{
		KeyPoint:          "Central Warehouse (Moon Zone)",
		DefaultReturnZone: "Bodega principal - Expo Center",
		AuditCap:          200,
	}, nil).WithClock(func() time.Time { return testNow })
}

func newTestService(t *testing.T, store db.SnapshotStore, m *metrics.Metrics) *Service {
	t.Helper()
	svc := NewService(store, newTestEngine(), auth.NewAllowListPolicy([]string{admin.Email}), m)
	svc.Start(context.Background())
	t.Cleanup(svc.Stop)
	return svc
}

// newInitializedService returns a service over a memory store holding the
// initial roster at revision 1.
func newInitializedService(t *testing.T) (*Service, *db.MemorySnapshotStore) {
	t.Helper()
	store := db.NewMemorySnapshotStore()
	svc := newTestService(t, store, nil)
	require.NoError(t, svc.Initialize(context.Background(), admin))
	return svc, store
}

func checkoutForm() fleet.CheckoutForm {
	return fleet.CheckoutForm{PersonnelID: "006111", Zone: "Expo Center", Purpose: "Traslado"}
}

func TestService_InitializeAndView(t *testing.T) {
	store := db.NewMemorySnapshotStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	view := svc.View("", testNow)
	assert.True(t, view.Loaded)
	assert.True(t, view.DocMissing)
	assert.Empty(t, view.Vehicles)

	_, err := svc.Checkout(ctx, admin, "C01", checkoutForm())
	assert.ErrorIs(t, err, db.ErrDocumentMissing)

	assert.ErrorIs(t, svc.Initialize(ctx, viewer), ErrForbidden)
	require.NoError(t, svc.Initialize(ctx, admin))
	assert.ErrorIs(t, svc.Initialize(ctx, admin), db.ErrAlreadyExists)

	view = svc.View("", testNow)
	assert.False(t, view.DocMissing)
	assert.Len(t, view.Vehicles, 8)
	assert.Equal(t, int64(1), view.Revision)
	assert.Equal(t, 8, view.Stats.Available)
	assert.Equal(t, 90, view.SLAMinutes)
	assert.Equal(t, 15, view.RecallMinutes)

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, admin.Email, stored.CreatedBy)
}

func TestService_NotReadyBeforeStart(t *testing.T) {
	svc := NewService(db.NewMemorySnapshotStore(), newTestEngine(), auth.NewAllowListPolicy([]string{admin.Email}), nil)

	_, err := svc.Checkout(context.Background(), admin, "C01", checkoutForm())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.False(t, svc.View("", testNow).Loaded)
}

func TestService_CheckoutPersistsAndNotifies(t *testing.T) {
	svc, store := newInitializedService(t)
	ctx := context.Background()

	var notified int
	var mu sync.Mutex
	unsubscribe := svc.Subscribe(func() {
		mu.Lock()
		notified++
		mu.Unlock()
	})
	defer unsubscribe()

	var committed []models.Transaction
	svc.OnCommit(func(_ context.Context, tx models.Transaction) { committed = append(committed, tx) })

	res, err := svc.Checkout(ctx, admin, "C01", checkoutForm())
	require.NoError(t, err)
	assert.Equal(t, models.TxCheckout, res.Entry.Type)
	assert.Equal(t, admin.Email, res.Entry.Actor)

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Revision)
	assert.Equal(t, admin.Email, stored.UpdatedBy)
	c01, _ := fleet.FindVehicle(stored.Vehicles, "C01")
	assert.Equal(t, models.StatusInUse, c01.Status)
	require.Len(t, stored.Tx, 1)

	view := svc.View("", testNow)
	assert.False(t, view.Pending)
	assert.Empty(t, view.Error)
	assert.Equal(t, int64(2), view.Revision)
	assert.Equal(t, "C01", view.Vehicles[0].ID)

	mu.Lock()
	assert.Greater(t, notified, 0)
	mu.Unlock()
	require.Len(t, committed, 1)
	assert.Equal(t, res.Entry.ID, committed[0].ID)
}

func TestService_ViewerIsReadOnly(t *testing.T) {
	svc, store := newInitializedService(t)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, viewer, "C01", checkoutForm())
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Reset(ctx, viewer, true)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Checkout(ctx, nil, "C01", checkoutForm())
	assert.ErrorIs(t, err, ErrForbidden)

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Revision)

	res, err := svc.Escalate(ctx, viewer, "C01")
	require.NoError(t, err)
	assert.Equal(t, models.TxEscalation, res.Entry.Type)
	assert.Equal(t, viewer.Email, res.Entry.Actor)
}

func TestService_RejectedOperationWritesNothing(t *testing.T) {
	svc, store := newInitializedService(t)
	ctx := context.Background()

	form := checkoutForm()
	form.Purpose = ""
	_, err := svc.Checkout(ctx, admin, "C01", form)
	assert.ErrorIs(t, err, fleet.ErrIncompleteForm)

	_, err = svc.MarkWaiting(ctx, admin, "C01")
	assert.ErrorIs(t, err, fleet.ErrInvalidTransition)

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Revision)
	assert.Empty(t, stored.Tx)
	assert.False(t, svc.View("", testNow).Pending)
}

// interferingStore lets another writer commit just before the first write
// of the service under test.
type interferingStore struct {
	*db.MemorySnapshotStore
	once      sync.Once
	interfere func()
}

func (s *interferingStore) Write(ctx context.Context, snap models.FleetSnapshot, expected int64) (int64, error) {
	s.once.Do(s.interfere)
	return s.MemorySnapshotStore.Write(ctx, snap, expected)
}

func TestService_ConflictRecomputesOnFreshState(t *testing.T) {
	mem := db.NewMemorySnapshotStore()
	require.NoError(t, mem.Initialize(context.Background(), models.FleetSnapshot{Vehicles: fleet.InitialVehicles()}))

	other := newTestEngine()
	store := &interferingStore{MemorySnapshotStore: mem}
	store.interfere = func() {
		snap, err := mem.Load(context.Background())
		require.NoError(t, err)
		res, err := other.Checkout(fleet.State{Vehicles: snap.Vehicles, Tx: snap.Tx}, "C02", checkoutForm(), "other@example.com")
		require.NoError(t, err)
		snap.Vehicles, snap.Tx = res.Vehicles, res.Tx
		_, err = mem.Write(context.Background(), *snap, snap.Revision)
		require.NoError(t, err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := newTestService(t, store, m)

	_, err := svc.Checkout(context.Background(), admin, "C01", checkoutForm())
	require.NoError(t, err)

	stored, err := mem.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Revision)
	for _, id := range []string{"C01", "C02"} {
		v, _ := fleet.FindVehicle(stored.Vehicles, id)
		assert.Equal(t, models.StatusInUse, v.Status, id)
	}
	require.Len(t, stored.Tx, 2)
	assert.Equal(t, admin.Email, stored.Tx[0].Actor)
	assert.Equal(t, "other@example.com", stored.Tx[1].Actor)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WriteConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("checkout", "ok")))
}

// MockSnapshotStore is a mock implementation of db.SnapshotStore
type MockSnapshotStore struct {
	mock.Mock
}

func (m *MockSnapshotStore) Load(ctx context.Context) (*models.FleetSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FleetSnapshot), args.Error(1)
}

func (m *MockSnapshotStore) Initialize(ctx context.Context, snap models.FleetSnapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

func (m *MockSnapshotStore) Write(ctx context.Context, snap models.FleetSnapshot, expectedRevision int64) (int64, error) {
	args := m.Called(ctx, snap, expectedRevision)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSnapshotStore) Subscribe(ctx context.Context, onSnapshot func(*models.FleetSnapshot), onError func(error)) func() {
	args := m.Called(ctx, onSnapshot, onError)
	return args.Get(0).(func())
}

func seed(revision int64) *models.FleetSnapshot {
	return &models.FleetSnapshot{Vehicles: fleet.InitialVehicles(), Revision: revision}
}

// subscribeWith makes the mock deliver snap on Subscribe and captures the
// callback for later pushes.
func subscribeWith(store *MockSnapshotStore, snap *models.FleetSnapshot) *func(*models.FleetSnapshot) {
	var push func(*models.FleetSnapshot)
	store.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			push = args.Get(1).(func(*models.FleetSnapshot))
			push(snap)
		}).
		Return(func() {})
	return &push
}

func TestService_GivesUpAfterRepeatedConflicts(t *testing.T) {
	store := new(MockSnapshotStore)
	subscribeWith(store, seed(4))
	store.On("Write", mock.Anything, mock.Anything, int64(4)).Return(int64(0), db.ErrConflict)
	store.On("Load", mock.Anything).Return(seed(4), nil)

	svc := newTestService(t, store, nil)

	_, err := svc.Checkout(context.Background(), admin, "C01", checkoutForm())
	assert.ErrorIs(t, err, ErrTooManyConflicts)
	store.AssertNumberOfCalls(t, "Write", MaxWriteAttempts)
	store.AssertNumberOfCalls(t, "Load", MaxWriteAttempts)
}

func TestService_WriteErrorKeepsOptimisticStateAndBanner(t *testing.T) {
	store := new(MockSnapshotStore)
	push := subscribeWith(store, seed(1))
	store.On("Write", mock.Anything, mock.Anything, int64(1)).Return(int64(0), errors.New("permission denied"))

	svc := newTestService(t, store, nil)

	_, err := svc.Checkout(context.Background(), admin, "C01", checkoutForm())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")

	view := svc.View("c01", testNow)
	assert.True(t, view.Pending)
	assert.Contains(t, view.Error, "permission denied")
	require.Len(t, view.Vehicles, 1)
	assert.Equal(t, models.StatusInUse, view.Vehicles[0].Status)

	// The next authoritative snapshot replaces the optimistic state.
	(*push)(seed(1))
	view = svc.View("c01", testNow)
	assert.False(t, view.Pending)
	assert.Empty(t, view.Error)
	assert.Equal(t, models.StatusAvailable, view.Vehicles[0].Status)
}

func TestService_WriteOnDeletedDocument(t *testing.T) {
	store := new(MockSnapshotStore)
	subscribeWith(store, seed(2))
	store.On("Write", mock.Anything, mock.Anything, int64(2)).Return(int64(0), db.ErrDocumentMissing)

	svc := newTestService(t, store, nil)

	_, err := svc.SetMaintenance(context.Background(), admin, "C01")
	assert.ErrorIs(t, err, db.ErrDocumentMissing)
	assert.True(t, svc.View("", testNow).DocMissing)
}

func TestService_RemoteSnapshotWins(t *testing.T) {
	svc, store := newInitializedService(t)
	ctx := context.Background()

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	snap.Vehicles[4].Status = models.StatusMaintenance
	snap.UpdatedBy = "someone-else@example.com"
	_, err = store.Write(ctx, *snap, snap.Revision)
	require.NoError(t, err)

	view := svc.View("C05", testNow)
	require.Len(t, view.Vehicles, 1)
	assert.Equal(t, models.StatusMaintenance, view.Vehicles[0].Status)
	assert.Equal(t, "someone-else@example.com", view.UpdatedBy)
	assert.Equal(t, 1, view.Stats.Maintenance)

	store.Delete()
	assert.True(t, svc.View("", testNow).DocMissing)
	_, err = svc.Snapshot()
	assert.ErrorIs(t, err, db.ErrDocumentMissing)
}

func TestService_FullShift(t *testing.T) {
	svc, store := newInitializedService(t)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, admin, "C01", checkoutForm())
	require.NoError(t, err)
	_, err = svc.MarkWaiting(ctx, admin, "C01")
	require.NoError(t, err)
	_, err = svc.StartRecall(ctx, admin, "C01", "")
	require.NoError(t, err)
	_, err = svc.Escalate(ctx, admin, "C01")
	require.NoError(t, err)
	_, err = svc.CheckIn(ctx, admin, "C01", fleet.CheckInForm{Zone: "Bodega principal - Expo Center"})
	require.NoError(t, err)

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), stored.Revision)
	require.Len(t, stored.Tx, 5)
	assert.Equal(t, models.TxCheckIn, stored.Tx[0].Type)
	assert.Equal(t, models.TxCheckout, stored.Tx[4].Type)

	_, err = svc.Reset(ctx, admin, false)
	assert.ErrorIs(t, err, fleet.ErrConfirmationRequired)

	res, err := svc.Reset(ctx, admin, true)
	require.NoError(t, err)
	assert.Equal(t, models.FleetWideVehicleID, res.Entry.VehicleID)

	stored, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, stored.Tx, 1)
	assert.Equal(t, models.TxSystemReset, stored.Tx[0].Type)
}

func TestService_ConcurrentOperations(t *testing.T) {
	svc, store := newInitializedService(t)
	ctx := context.Background()

	ids := []string{"C01", "C02", "C03", "C04", "C05", "C06", "P02", "P04"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.Checkout(ctx, admin, id, checkoutForm())
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, stored.Tx, len(ids))
	for _, v := range stored.Vehicles {
		assert.Equal(t, models.StatusInUse, v.Status, v.ID)
	}
	assert.Equal(t, 8, svc.View("", testNow).Stats.InUse)
}

func TestService_SlowHookDoesNotBlockWrites(t *testing.T) {
	svc, store := newInitializedService(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	svc.OnCommit(func(_ context.Context, _ models.Transaction) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
	})

	first := make(chan error, 1)
	go func() {
		_, err := svc.Checkout(ctx, admin, "C01", checkoutForm())
		first <- err
	}()
	<-entered

	second := make(chan error, 1)
	go func() {
		_, err := svc.Checkout(ctx, admin, "C02", checkoutForm())
		second <- err
	}()

	assert.Eventually(t, func() bool {
		stored, err := store.Load(ctx)
		return err == nil && stored.Revision == 3
	}, time.Second, 10*time.Millisecond)
	assert.NoError(t, <-second)

	close(release)
	assert.NoError(t, <-first)
}

func TestService_HookContextOutlivesCancelledRequest(t *testing.T) {
	svc, _ := newInitializedService(t)

	hookErr := make(chan error, 1)
	svc.OnCommit(func(ctx context.Context, _ models.Transaction) { hookErr <- ctx.Err() })

	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.Checkout(ctx, admin, "C01", checkoutForm())
	require.NoError(t, err)
	cancel()

	assert.NoError(t, <-hookErr)
}
