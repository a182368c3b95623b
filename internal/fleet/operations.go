package fleet

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

var (
	ErrIncompleteForm       = errors.New("required fields missing")
	ErrUnknownPersonnel     = errors.New("personnel id not in directory")
	ErrVehicleNotFound      = errors.New("vehicle not found")
	ErrInvalidTransition    = errors.New("transition not allowed from current status")
	ErrConfirmationRequired = errors.New("system reset requires confirmation")
)

// Rules are the fixed parameters of the dispatch operation.
type Rules struct {
	KeyPoint          string
	DefaultReturnZone string
	AuditCap          int
	Thresholds        Thresholds
}

// State is the pair of collections every operation reads and replaces.
type State struct {
	Vehicles []models.Vehicle
	Tx       []models.Transaction
}

// Result is the next full state produced by an operation plus the audit
// entry it prepended.
type Result struct {
	State
	Entry models.Transaction
}

// CheckoutForm is the input of a checkout. Either a registry PersonnelID or
// both freelance fields identify the responsible party.
type CheckoutForm struct {
	PersonnelID   string `json:"personnel_id" validate:"required_if=Freelance false"`
	Freelance     bool   `json:"freelance"`
	FreelanceName string `json:"freelance_name" validate:"required_if=Freelance true"`
	FreelanceID   string `json:"freelance_id" validate:"required_if=Freelance true"`
	Zone          string `json:"zone" validate:"required"`
	Purpose       string `json:"purpose" validate:"required"`
	Notes         string `json:"notes"`
}

// CheckInForm is the input of a return to the key point.
type CheckInForm struct {
	Zone  string `json:"zone" validate:"required"`
	Notes string `json:"notes"`
}

// Engine applies transition operations to a fleet state. It holds no state
// of its own; every call returns the next collections.
type Engine struct {
	rules     Rules
	directory *Directory
	validate  *validator.Validate
	now       func() time.Time
	newID     func() string
}

// NewEngine creates an engine bound to the given rules and directory.
func NewEngine(rules Rules, directory *Directory) *Engine {
	if rules.Thresholds == (Thresholds{}) {
		rules.Thresholds = DefaultThresholds()
	}
	if directory == nil {
		directory = DefaultDirectory(rules.DefaultReturnZone)
	}
	return &Engine{
		rules:     rules,
		directory: directory,
		validate:  validator.New(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithClock replaces the time source, for tests and replays.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Rules returns the engine's parameters.
func (e *Engine) Rules() Rules { return e.rules }

// Directory returns the reference lists the engine validates against.
func (e *Engine) Directory() *Directory { return e.directory }

// Now returns the engine's current time.
func (e *Engine) Now() time.Time { return e.now() }

// Checkout hands a unit over to a responsible party.
func (e *Engine) Checkout(st State, vehicleID string, form CheckoutForm, actor string) (*Result, error) {
	form = normalizeCheckout(form)
	if err := e.validate.Struct(form); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompleteForm, err)
	}

	label, err := e.responsibleLabel(form)
	if err != nil {
		return nil, err
	}

	now := e.now()
	vehicles, err := e.transition(st.Vehicles, vehicleID, EventCheckout, func(v *models.Vehicle) {
		v.Status = models.StatusInUse
		v.LastZone = form.Zone
		v.LastUserLabel = label
		v.LastPurpose = form.Purpose
		v.LastNotes = form.Notes
		v.CheckedOutAt = &now
		v.RecallAt = nil
		v.RecallBy = ""
	})
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("Handed over at %s → %s | Destination: %s | Purpose: %s",
		e.rules.KeyPoint, label, form.Zone, form.Purpose)
	return e.commit(vehicles, st.Tx, models.TxCheckout, vehicleID, summary, actor, now), nil
}

// CheckIn returns a unit to the key point and parks it in the given zone.
func (e *Engine) CheckIn(st State, vehicleID string, form CheckInForm, actor string) (*Result, error) {
	form.Zone = strings.TrimSpace(form.Zone)
	form.Notes = strings.TrimSpace(form.Notes)
	if err := e.validate.Struct(form); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompleteForm, err)
	}

	now := e.now()
	vehicles, err := e.transition(st.Vehicles, vehicleID, EventCheckIn, func(v *models.Vehicle) {
		v.Status = models.StatusAvailable
		v.LastZone = form.Zone
		v.LastNotes = form.Notes
		v.LastUserLabel = ""
		v.LastPurpose = ""
		v.CheckedOutAt = nil
		v.RecallAt = nil
		v.RecallBy = ""
	})
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("Returned to %s | Parked at: %s", e.rules.KeyPoint, form.Zone)
	return e.commit(vehicles, st.Tx, models.TxCheckIn, vehicleID, summary, actor, now), nil
}

// MarkWaiting flags an away unit as idle. A pending recall is dropped; the
// checkout time and responsible party stay.
func (e *Engine) MarkWaiting(st State, vehicleID string, actor string) (*Result, error) {
	now := e.now()
	vehicles, err := e.transition(st.Vehicles, vehicleID, EventWait, func(v *models.Vehicle) {
		v.Status = models.StatusWaiting
		v.RecallAt = nil
		v.RecallBy = ""
	})
	if err != nil {
		return nil, err
	}

	return e.commit(vehicles, st.Tx, models.TxStatusChange, vehicleID,
		"Unit marked as WAITING (idle time).", actor, now), nil
}

// StartRecall requests the immediate return of an away unit. recallBy is the
// initiator label; the actor is used when it is empty.
func (e *Engine) StartRecall(st State, vehicleID, recallBy, actor string) (*Result, error) {
	recallBy = strings.TrimSpace(recallBy)
	if recallBy == "" {
		recallBy = actor
	}

	now := e.now()
	vehicles, err := e.transition(st.Vehicles, vehicleID, EventRecall, func(v *models.Vehicle) {
		v.Status = models.StatusRecall
		v.RecallAt = &now
		v.RecallBy = recallBy
	})
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("RECALL started by %s. Target: back at %s within %d min.",
		recallBy, e.rules.KeyPoint, e.rules.Thresholds.RecallMinutes())
	return e.commit(vehicles, st.Tx, models.TxRecall, vehicleID, summary, actor, now), nil
}

// Escalate logs that an escalation notice was produced. Vehicles are untouched.
func (e *Engine) Escalate(st State, vehicleID string, actor string) (*Result, error) {
	if _, ok := FindVehicle(st.Vehicles, vehicleID); !ok {
		return nil, ErrVehicleNotFound
	}
	return e.commit(models.CloneVehicles(st.Vehicles), st.Tx, models.TxEscalation, vehicleID,
		"Escalation generated (message copied).", actor, e.now()), nil
}

// SetMaintenance takes an available unit out of service.
func (e *Engine) SetMaintenance(st State, vehicleID string, actor string) (*Result, error) {
	now := e.now()
	vehicles, err := e.transition(st.Vehicles, vehicleID, EventMaintenance, func(v *models.Vehicle) {
		v.Status = models.StatusMaintenance
	})
	if err != nil {
		return nil, err
	}

	return e.commit(vehicles, st.Tx, models.TxStatusChange, vehicleID,
		"Unit moved to MAINTENANCE.", actor, now), nil
}

// SystemReset releases every unit and replaces the log with a single entry.
// It refuses to run unless confirmed is true.
func (e *Engine) SystemReset(st State, confirmed bool, actor string) (*Result, error) {
	if !confirmed {
		return nil, ErrConfirmationRequired
	}

	now := e.now()
	vehicles := models.CloneVehicles(st.Vehicles)
	for i := range vehicles {
		v := &vehicles[i]
		v.Status = models.StatusAvailable
		if v.LastZone == "" {
			v.LastZone = e.rules.DefaultReturnZone
		}
		v.LastUserLabel = ""
		v.LastPurpose = ""
		v.LastNotes = ""
		v.CheckedOutAt = nil
		v.RecallAt = nil
		v.RecallBy = ""
	}

	entry := e.newTx(models.TxSystemReset, models.FleetWideVehicleID,
		"Shift reset executed. Log cleared and units released.", actor, now)
	return &Result{
		State: State{Vehicles: vehicles, Tx: []models.Transaction{entry}},
		Entry: entry,
	}, nil
}

// responsibleLabel resolves the checkout party into its opaque label.
func (e *Engine) responsibleLabel(form CheckoutForm) (string, error) {
	if form.Freelance {
		return FreelanceLabel(form.FreelanceName, form.FreelanceID), nil
	}
	p, ok := e.directory.LookupPersonnel(form.PersonnelID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPersonnel, form.PersonnelID)
	}
	return RegistryLabel(p), nil
}

// transition copies the collection and mutates the matching vehicle if the
// status machine allows event from its current status.
func (e *Engine) transition(vehicles []models.Vehicle, id, event string, mutate func(*models.Vehicle)) ([]models.Vehicle, error) {
	next := models.CloneVehicles(vehicles)
	for i := range next {
		if next[i].ID != id {
			continue
		}
		if !CanTransition(next[i].Status, event) {
			return nil, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, next[i].Status)
		}
		mutate(&next[i])
		return next, nil
	}
	return nil, ErrVehicleNotFound
}

func (e *Engine) commit(vehicles []models.Vehicle, log []models.Transaction, typ models.TransactionType, vehicleID, summary, actor string, now time.Time) *Result {
	entry := e.newTx(typ, vehicleID, summary, actor, now)
	return &Result{
		State: State{Vehicles: vehicles, Tx: PrependTx(log, entry, e.rules.AuditCap)},
		Entry: entry,
	}
}

func (e *Engine) newTx(typ models.TransactionType, vehicleID, summary, actor string, now time.Time) models.Transaction {
	return models.Transaction{
		ID:        e.newID(),
		Timestamp: now,
		Type:      typ,
		VehicleID: vehicleID,
		Summary:   summary,
		Actor:     actor,
	}
}

func normalizeCheckout(f CheckoutForm) CheckoutForm {
	f.PersonnelID = strings.TrimSpace(f.PersonnelID)
	f.FreelanceName = strings.TrimSpace(f.FreelanceName)
	f.FreelanceID = strings.TrimSpace(f.FreelanceID)
	f.Zone = strings.TrimSpace(f.Zone)
	f.Purpose = strings.TrimSpace(f.Purpose)
	f.Notes = strings.TrimSpace(f.Notes)
	return f
}
