package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/fleet"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine() *fleet.Engine {
	return fleet.NewEngine(fleet.Rules{
		KeyPoint:          "Key point",
		DefaultReturnZone: "Bodega",
		AuditCap:          200,
	}, nil).WithClock(func() time.Time { return testNow })
}

func newTestDeps(store *db.MemorySnapshotStore) *deps {
	return &deps{
		engine: func() (*fleet.Engine, error) { return newTestEngine(), nil },
		store: func(ctx context.Context) (db.SnapshotStore, func(), error) {
			return store, func() {}, nil
		},
	}
}

func execute(t *testing.T, d *deps, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true

	var out bytes.Buffer
	cmd := newRootCmd(d)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seededStore returns a store holding the roster with P02 checked out
// 100 minutes ago and C03 recalled 20 minutes ago.
func seededStore(t *testing.T) *db.MemorySnapshotStore {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemorySnapshotStore()
	require.NoError(t, store.Initialize(ctx, models.FleetSnapshot{
		Vehicles:  fleet.InitialVehicles(),
		UpdatedAt: testNow,
		UpdatedBy: "lead@example.com",
	}))

	checkedOut := testNow.Add(-100 * time.Minute)
	recallAt := testNow.Add(-20 * time.Minute)
	snap, err := store.Load(ctx)
	require.NoError(t, err)
	for i := range snap.Vehicles {
		v := &snap.Vehicles[i]
		switch v.ID {
		case "P02":
			v.Status = models.StatusInUse
			v.LastZone = "Playa Delfines"
			v.LastUserLabel = "FREELANCE - Ana Ruiz (ID: F-77)"
			v.CheckedOutAt = &checkedOut
		case "C03":
			v.Status = models.StatusRecall
			v.LastZone = "Expo"
			v.LastUserLabel = "Registry (ID: 000123)"
			v.CheckedOutAt = &checkedOut
			v.RecallAt = &recallAt
			v.RecallBy = "Dispatch desk"
		}
	}
	snap.Tx = []models.Transaction{{
		ID:        "tx-1",
		Timestamp: checkedOut,
		Type:      models.TxCheckout,
		VehicleID: "P02",
		Summary:   "Handed over",
		Actor:     "lead@example.com",
	}}
	_, err = store.Write(ctx, *snap, snap.Revision)
	require.NoError(t, err)
	return store
}

func TestStatusCommand(t *testing.T) {
	d := newTestDeps(seededStore(t))

	out, err := execute(t, d, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Revision 2")
	assert.Contains(t, out, "Available 6/8 | In use 1 | Waiting 0 | Recall 1 | Maintenance 0")

	var rows []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) > 3 && (line[0] == 'C' || line[0] == 'P') && line[1] >= '0' && line[1] <= '9' {
			rows = append(rows, line)
		}
	}
	require.Len(t, rows, 8)
	assert.True(t, strings.HasPrefix(rows[0], "C03"))
	assert.Contains(t, rows[0], "Recall OVERDUE")
	assert.True(t, strings.HasPrefix(rows[1], "P02"))
	assert.Contains(t, rows[1], "In use SLA!")
	assert.Contains(t, rows[1], "100 min")

	out, err = execute(t, d, "status", "-q", "delfines")
	require.NoError(t, err)
	assert.Contains(t, out, "P02")
	assert.NotContains(t, out, "C01 ")
}

func TestStatusCommand_StatusFilter(t *testing.T) {
	d := newTestDeps(seededStore(t))

	out, err := execute(t, d, "status", "--status", "recall")
	require.NoError(t, err)
	assert.Contains(t, out, "C03")
	assert.NotContains(t, out, "P02")
	assert.Contains(t, out, "Available 6/8", "counts still cover the whole fleet")

	_, err = execute(t, d, "status", "--status", "parked")
	assert.ErrorIs(t, err, errUnknownStatus)
}

func TestSummaryCommand(t *testing.T) {
	out, err := execute(t, newTestDeps(seededStore(t)), "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "Key point: Key point")
	assert.Contains(t, out, "• C03 (Cargo) - Recall")
	assert.Contains(t, out, "RECALL OVERDUE!")
	assert.Contains(t, out, "• P02 (2-seat) - In use SLA!")
}

func TestAuditCommand(t *testing.T) {
	out, err := execute(t, newTestDeps(seededStore(t)), "audit", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "CHECKOUT")
	assert.Contains(t, out, "Handed over")

	store := db.NewMemorySnapshotStore()
	require.NoError(t, store.Initialize(context.Background(), models.FleetSnapshot{Vehicles: fleet.InitialVehicles()}))
	out, err = execute(t, newTestDeps(store), "audit")
	require.NoError(t, err)
	assert.Contains(t, out, "No transactions.")
}

func TestExportCommand(t *testing.T) {
	d := newTestDeps(seededStore(t))

	out, err := execute(t, d, "export", "-o", "-")
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 9)
	assert.Equal(t, "vehicle_id", records[0][1])

	path := filepath.Join(t.TempDir(), "audit.csv")
	out, err = execute(t, d, "export", "--audit", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	records, err = csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"ts", "type", "vehicle_id", "summary", "actor"}, records[0])
	assert.Equal(t, "P02", records[1][2])
}

func TestInitCommand(t *testing.T) {
	store := db.NewMemorySnapshotStore()
	d := newTestDeps(store)

	out, err := execute(t, d, "init", "--actor", "lead@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Fleet document created.")

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Vehicles, 8)
	assert.Equal(t, int64(1), snap.Revision)
	assert.Equal(t, "lead@example.com", snap.CreatedBy)

	out, err = execute(t, d, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestResetCommand(t *testing.T) {
	store := seededStore(t)
	d := newTestDeps(store)

	_, err := execute(t, d, "reset")
	assert.ErrorIs(t, err, fleet.ErrConfirmationRequired)

	out, err := execute(t, d, "reset", "--yes", "--actor", "lead@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Fleet reset (revision 3).")

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	for _, v := range snap.Vehicles {
		assert.Equal(t, models.StatusAvailable, v.Status, v.ID)
		assert.Nil(t, v.CheckedOutAt)
	}
	require.Len(t, snap.Tx, 1)
	assert.Equal(t, models.TxSystemReset, snap.Tx[0].Type)
	assert.Equal(t, "lead@example.com", snap.UpdatedBy)
}

func TestCommands_MissingDocument(t *testing.T) {
	d := newTestDeps(db.NewMemorySnapshotStore())
	for _, name := range []string{"status", "summary", "audit", "export", "reset"} {
		_, err := execute(t, d, name)
		assert.ErrorIs(t, err, db.ErrDocumentMissing, name)
	}
}

func TestCommands_StoreError(t *testing.T) {
	boom := errors.New("connection refused")
	d := &deps{
		engine: func() (*fleet.Engine, error) { return newTestEngine(), nil },
		store: func(ctx context.Context) (db.SnapshotStore, func(), error) {
			return nil, nil, boom
		},
	}
	_, err := execute(t, d, "status")
	assert.ErrorIs(t, err, boom)
}
