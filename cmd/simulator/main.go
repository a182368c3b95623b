package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-dispatch/internal/dispatch"
	"github.com/ukydev/fleet-dispatch/internal/fleet"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

var purposes = []string{"Traslado", "Montaje", "Desmontaje", "Entrega de equipo", "Supervisión"}

var errUnexpectedStatus = errors.New("unexpected status")

// step is one request the simulator sends for a vehicle.
type step struct {
	VehicleID string
	Action    string
	Body      any
}

// simulator drives operator traffic against a running dispatch API.
type simulator struct {
	apiURL string
	token  string
	client *http.Client
	rng    *rand.Rand
	dir    *fleet.Directory
}

func newSimulator(apiURL, token string, seed int64) *simulator {
	return &simulator{
		apiURL: apiURL,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (s *simulator) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.apiURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s returned %d", errUnexpectedStatus, method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// login exchanges credentials for a session token.
func (s *simulator) login(ctx context.Context, email, password string) error {
	var resp models.LoginResponse
	if err := s.do(ctx, http.MethodPost, "/auth/login", models.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	s.token = resp.Token
	log.WithField("email", email).Info("Simulator logged in")
	return nil
}

// prepare loads the directory and creates the fleet document if needed.
func (s *simulator) prepare(ctx context.Context) error {
	var dir fleet.Directory
	if err := s.do(ctx, http.MethodGet, "/directory", nil, &dir); err != nil {
		return fmt.Errorf("failed to load directory: %w", err)
	}
	s.dir = &dir

	view, err := s.view(ctx)
	if err != nil {
		return err
	}
	if view.DocMissing {
		if err := s.do(ctx, http.MethodPost, "/fleet/init", nil, nil); err != nil {
			return fmt.Errorf("failed to initialize fleet: %w", err)
		}
		log.Info("Initialized fleet document")
	}
	return nil
}

func (s *simulator) view(ctx context.Context) (*dispatch.FleetView, error) {
	var view dispatch.FleetView
	if err := s.do(ctx, http.MethodGet, "/fleet", nil, &view); err != nil {
		return nil, fmt.Errorf("failed to load fleet: %w", err)
	}
	return &view, nil
}

// plan picks a plausible next step for v, or nil to leave it alone.
func (s *simulator) plan(v fleet.VehicleView) *step {
	roll := s.rng.Float64()
	switch v.Status {
	case models.StatusAvailable:
		if roll < 0.5 {
			return &step{VehicleID: v.ID, Action: "checkout", Body: s.checkoutForm()}
		}
	case models.StatusInUse:
		switch {
		case roll < 0.3:
			return &step{VehicleID: v.ID, Action: "checkin", Body: s.checkinForm()}
		case roll < 0.5:
			return &step{VehicleID: v.ID, Action: "waiting"}
		case roll < 0.6:
			return &step{VehicleID: v.ID, Action: "recall", Body: map[string]string{}}
		}
	case models.StatusWaiting:
		switch {
		case roll < 0.4:
			return &step{VehicleID: v.ID, Action: "checkin", Body: s.checkinForm()}
		case roll < 0.6:
			return &step{VehicleID: v.ID, Action: "recall", Body: map[string]string{}}
		}
	case models.StatusRecall:
		if v.RecallOverdue {
			return &step{VehicleID: v.ID, Action: "escalate"}
		}
		if roll < 0.5 {
			return &step{VehicleID: v.ID, Action: "checkin", Body: s.checkinForm()}
		}
	}
	return nil
}

func (s *simulator) checkoutForm() fleet.CheckoutForm {
	form := fleet.CheckoutForm{
		Zone:    s.pick(s.dir.Zones),
		Purpose: purposes[s.rng.Intn(len(purposes))],
	}
	if len(s.dir.Personnel) == 0 || s.rng.Float64() < 0.2 {
		form.Freelance = true
		form.FreelanceName = "Sim Freelance"
		form.FreelanceID = "SIM-" + strconv.Itoa(s.rng.Intn(1000))
		return form
	}
	form.PersonnelID = s.dir.Personnel[s.rng.Intn(len(s.dir.Personnel))].ID
	return form
}

func (s *simulator) checkinForm() fleet.CheckInForm {
	return fleet.CheckInForm{Zone: s.pick(s.dir.Zones)}
}

func (s *simulator) pick(options []string) string {
	if len(options) == 0 {
		return "Key point"
	}
	return options[s.rng.Intn(len(options))]
}

// tick loads the fleet and applies one step to a random vehicle.
func (s *simulator) tick(ctx context.Context) (*step, error) {
	view, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	if len(view.Vehicles) == 0 {
		return nil, nil
	}

	v := view.Vehicles[s.rng.Intn(len(view.Vehicles))]
	st := s.plan(v)
	if st == nil {
		return nil, nil
	}

	err = s.do(ctx, http.MethodPost, "/vehicles/"+st.VehicleID+"/"+st.Action, st.Body, nil)
	fields := log.Fields{
		"vehicle_id": st.VehicleID,
		"action":     st.Action,
		"status":     v.Status,
	}
	if err != nil {
		fields["error"] = err
		log.WithFields(fields).Warn("Simulated operation rejected")
		return st, err
	}
	log.WithFields(fields).Info("Simulated operation")
	return st, nil
}

func (s *simulator) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.tick(ctx)
		}
	}
}

func main() {
	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}

	interval := 5 * time.Second
	if v := os.Getenv("SIM_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			interval = time.Duration(n) * time.Second
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := newSimulator(apiURL, os.Getenv("SIM_AUTH_TOKEN"), time.Now().UnixNano())
	if sim.token == "" {
		if err := sim.login(ctx, os.Getenv("SIM_EMAIL"), os.Getenv("SIM_PASSWORD")); err != nil {
			log.WithError(err).Fatal("Set SIM_AUTH_TOKEN or SIM_EMAIL/SIM_PASSWORD for an admin account")
		}
	}

	log.WithFields(log.Fields{
		"api_url":  apiURL,
		"interval": interval,
	}).Info("Starting shift simulation")

	if err := sim.prepare(ctx); err != nil {
		log.WithError(err).Fatal("Failed to prepare simulation")
	}
	sim.run(ctx, interval)
	log.Info("Shift simulation stopped")
}
