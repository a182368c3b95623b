package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-dispatch/internal/dispatch"
	"github.com/ukydev/fleet-dispatch/internal/fleet"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// fakeAPI records the requests a simulator sends.
type fakeAPI struct {
	mu         sync.Mutex
	docMissing bool
	vehicles   []fleet.VehicleView
	calls      []string
	auth       []string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		f.mu.Unlock()
	}
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		var req models.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(models.LoginResponse{Token: "sim-token"})
	})
	mux.HandleFunc("/api/directory", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_ = json.NewEncoder(w).Encode(fleet.DefaultDirectory("Bodega"))
	})
	mux.HandleFunc("/api/fleet", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		f.mu.Lock()
		view := dispatch.FleetView{DocMissing: f.docMissing, Vehicles: f.vehicles}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(view)
	})
	mux.HandleFunc("/api/fleet/init", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		f.mu.Lock()
		f.docMissing = false
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/vehicles/", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (f *fakeAPI) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestSimulator(t *testing.T, api *fakeAPI) *simulator {
	t.Helper()
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)
	return newSimulator(server.URL+"/api", "", 42)
}

func TestSimulator_Login(t *testing.T) {
	api := &fakeAPI{}
	sim := newTestSimulator(t, api)

	assert.Error(t, sim.login(context.Background(), "lead@example.com", "wrong"))
	require.NoError(t, sim.login(context.Background(), "lead@example.com", "secret123"))
	assert.Equal(t, "sim-token", sim.token)
}

func TestSimulator_PrepareInitializesMissingDocument(t *testing.T) {
	api := &fakeAPI{docMissing: true}
	sim := newTestSimulator(t, api)
	sim.token = "sim-token"

	require.NoError(t, sim.prepare(context.Background()))
	require.NotNil(t, sim.dir)
	assert.Equal(t, "Bodega", sim.dir.Zones[0])
	assert.Equal(t, []string{"GET /api/directory", "GET /api/fleet", "POST /api/fleet/init"}, api.recorded())
	assert.Equal(t, "Bearer sim-token", api.auth[0])

	api.calls = nil
	require.NoError(t, sim.prepare(context.Background()))
	assert.NotContains(t, api.recorded(), "POST /api/fleet/init")
}

func TestSimulator_Plan(t *testing.T) {
	sim := newSimulator("http://unused", "", 7)
	sim.dir = fleet.DefaultDirectory("Bodega")

	for i := 0; i < 200; i++ {
		assert.Nil(t, sim.plan(fleet.VehicleView{Vehicle: models.Vehicle{ID: "C01", Status: models.StatusMaintenance}}))

		st := sim.plan(fleet.VehicleView{
			Vehicle: models.Vehicle{ID: "C02", Status: models.StatusRecall},
			Timing:  fleet.Timing{RecallOverdue: true},
		})
		require.NotNil(t, st)
		assert.Equal(t, "escalate", st.Action)

		if st := sim.plan(fleet.VehicleView{Vehicle: models.Vehicle{ID: "C03", Status: models.StatusAvailable}}); st != nil {
			assert.Equal(t, "checkout", st.Action)
			form := st.Body.(fleet.CheckoutForm)
			assert.NotEmpty(t, form.Zone)
			assert.NotEmpty(t, form.Purpose)
			if form.Freelance {
				assert.NotEmpty(t, form.FreelanceID)
			} else {
				_, ok := sim.dir.LookupPersonnel(form.PersonnelID)
				assert.True(t, ok)
			}
		}

		if st := sim.plan(fleet.VehicleView{Vehicle: models.Vehicle{ID: "C04", Status: models.StatusWaiting}}); st != nil {
			assert.Contains(t, []string{"checkin", "recall"}, st.Action)
		}
	}
}

func TestSimulator_Tick(t *testing.T) {
	api := &fakeAPI{vehicles: []fleet.VehicleView{{
		Vehicle: models.Vehicle{ID: "P04", Status: models.StatusRecall},
		Timing:  fleet.Timing{RecallOverdue: true},
	}}}
	sim := newTestSimulator(t, api)
	sim.dir = fleet.DefaultDirectory("Bodega")

	st, err := sim.tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Contains(t, api.recorded(), "POST /api/vehicles/P04/escalate")
}

func TestSimulator_TickEmptyFleet(t *testing.T) {
	api := &fakeAPI{}
	sim := newTestSimulator(t, api)

	st, err := sim.tick(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, st)
}

func TestSimulator_UnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sim := newSimulator(server.URL, "", 1)
	err := sim.do(context.Background(), http.MethodGet, "/fleet", nil, nil)
	assert.ErrorIs(t, err, errUnexpectedStatus)
}
