package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-dispatch/internal/auth"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/dispatch"
	"github.com/ukydev/fleet-dispatch/internal/fleet"
	"github.com/ukydev/fleet-dispatch/internal/middleware"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// FleetHandler serves the dispatch dashboard API.
type FleetHandler struct {
	svc             *dispatch.Service
	defaultRecallBy string
}

// NewFleetHandler creates a handler over svc. defaultRecallBy labels recalls
// whose request names no initiator.
func NewFleetHandler(svc *dispatch.Service, defaultRecallBy string) *FleetHandler {
	return &FleetHandler{svc: svc, defaultRecallBy: defaultRecallBy}
}

// Routes registers the fleet endpoints on r, each guarded by the policy.
// Authentication must already be applied to r.
func (h *FleetHandler) Routes(r *mux.Router, policy auth.Policy) {
	guard := func(action auth.Action, fn http.HandlerFunc) http.Handler {
		return middleware.RequireAction(policy, action)(fn)
	}

	r.Handle("/api/fleet", guard(auth.ActionView, h.GetFleet)).Methods(http.MethodGet)
	r.Handle("/api/fleet/audit", guard(auth.ActionView, h.GetAudit)).Methods(http.MethodGet)
	r.Handle("/api/fleet/summary", guard(auth.ActionSummary, h.GetSummary)).Methods(http.MethodGet)
	r.Handle("/api/fleet/export.csv", guard(auth.ActionExport, h.ExportSnapshot)).Methods(http.MethodGet)
	r.Handle("/api/fleet/audit.csv", guard(auth.ActionExport, h.ExportAudit)).Methods(http.MethodGet)
	r.Handle("/api/fleet/init", guard(auth.ActionInitialize, h.Initialize)).Methods(http.MethodPost)
	r.Handle("/api/fleet/reset", guard(auth.ActionReset, h.Reset)).Methods(http.MethodPost)
	r.Handle("/api/directory", guard(auth.ActionView, h.GetDirectory)).Methods(http.MethodGet)

	v := r.PathPrefix("/api/vehicles/{id}").Subrouter()
	v.Handle("/checkout", guard(auth.ActionCheckout, h.Checkout)).Methods(http.MethodPost)
	v.Handle("/checkin", guard(auth.ActionCheckIn, h.CheckIn)).Methods(http.MethodPost)
	v.Handle("/waiting", guard(auth.ActionWait, h.MarkWaiting)).Methods(http.MethodPost)
	v.Handle("/recall", guard(auth.ActionRecall, h.StartRecall)).Methods(http.MethodPost)
	v.Handle("/escalate", guard(auth.ActionEscalate, h.Escalate)).Methods(http.MethodPost)
	v.Handle("/maintenance", guard(auth.ActionMaintenance, h.SetMaintenance)).Methods(http.MethodPost)
	v.Handle("/recall-notice", guard(auth.ActionView, h.GetRecallNotice)).Methods(http.MethodGet)
}

// OperationResponse is returned by every vehicle operation.
type OperationResponse struct {
	Entry   models.Transaction `json:"entry"`
	Vehicle *models.Vehicle    `json:"vehicle,omitempty"`
	Notice  string             `json:"notice,omitempty"`
}

// GetFleet returns the prioritized view, optionally filtered by ?q=.
func (h *FleetHandler) GetFleet(w http.ResponseWriter, r *http.Request) {
	view := h.svc.View(r.URL.Query().Get("q"), h.svc.Engine().Now())
	writeJSON(w, http.StatusOK, view)
}

// GetAudit returns the transaction log, newest first.
func (h *FleetHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Tx)
}

// GetSummary returns the shift summary as plain text.
func (h *FleetHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	engine := h.svc.Engine()
	writeText(w, engine.FleetSummary(snap.Vehicles, engine.Now()))
}

// ExportSnapshot streams the vehicle table as CSV.
func (h *FleetHandler) ExportSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	engine := h.svc.Engine()
	now := engine.Now()
	setAttachment(w, fleet.ExportFilename("fleet_snapshot", now))
	if err := engine.Rules().Thresholds.WriteSnapshotCSV(w, snap.Vehicles, now); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Failed to write snapshot export")
	}
}

// ExportAudit streams the transaction log as CSV.
func (h *FleetHandler) ExportAudit(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	setAttachment(w, fleet.ExportFilename("fleet_audit", h.svc.Engine().Now()))
	if err := fleet.WriteAuditCSV(w, snap.Tx); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Failed to write audit export")
	}
}

// Initialize creates the shared document when it is absent.
func (h *FleetHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}
	if err := h.svc.Initialize(r.Context(), claims); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.svc.View("", h.svc.Engine().Now()))
}

// Reset releases every unit. The body must carry {"confirm": true}.
func (h *FleetHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if !decodeOptional(w, r, &req) {
		return
	}
	h.respond(w, r, "", func(claims *models.Claims) (*fleet.Result, error) {
		return h.svc.Reset(r.Context(), claims, req.Confirm)
	})
}

// GetDirectory returns the personnel and zone lists used by the forms.
func (h *FleetHandler) GetDirectory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Engine().Directory())
}

// Checkout hands a vehicle to a responsible party.
func (h *FleetHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var form fleet.CheckoutForm
	if !decode(w, r, &form) {
		return
	}
	id := mux.Vars(r)["id"]
	h.respond(w, r, id, func(claims *models.Claims) (*fleet.Result, error) {
		return h.svc.Checkout(r.Context(), claims, id, form)
	})
}

// CheckIn returns a vehicle to a parking zone.
func (h *FleetHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var form fleet.CheckInForm
	if !decode(w, r, &form) {
		return
	}
	id := mux.Vars(r)["id"]
	h.respond(w, r, id, func(claims *models.Claims) (*fleet.Result, error) {
		return h.svc.CheckIn(r.Context(), claims, id, form)
	})
}

// MarkWaiting flags a vehicle as idle away from the key point.
func (h *FleetHandler) MarkWaiting(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.respond(w, r, id, func(claims *models.Claims) (*fleet.Result, error) {
		return h.svc.MarkWaiting(r.Context(), claims, id)
	})
}

// StartRecall asks for a vehicle back and returns the recall notice.
func (h *FleetHandler) StartRecall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecallBy string `json:"recall_by"`
	}
	if !decodeOptional(w, r, &req) {
		return
	}
	recallBy := strings.TrimSpace(req.RecallBy)
	if recallBy == "" {
		recallBy = h.defaultRecallBy
	}

	id := mux.Vars(r)["id"]
	h.respond(w, r, id, func(claims *models.Claims) (*fleet.Result, error) {
		return h.svc.StartRecall(r.Context(), claims, id, recallBy)
	})
}

// Escalate logs an escalation and returns the escalation notice.
func (h *FleetHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.respond(w, r, id, func(claims *models.Claims) (*fleet.Result, error) {
		return h.svc.Escalate(r.Context(), claims, id)
	})
}

// SetMaintenance takes an available vehicle out of service.
func (h *FleetHandler) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.respond(w, r, id, func(claims *models.Claims) (*fleet.Result, error) {
		return h.svc.SetMaintenance(r.Context(), claims, id)
	})
}

// GetRecallNotice returns the recall message for a vehicle as plain text.
func (h *FleetHandler) GetRecallNotice(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Vehicle(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeText(w, h.svc.Engine().RecallNotice(v))
}

// respond runs op for the request identity and writes the committed entry
// with the resulting vehicle and, for recalls and escalations, the notice.
func (h *FleetHandler) respond(w http.ResponseWriter, r *http.Request, vehicleID string, op func(*models.Claims) (*fleet.Result, error)) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	res, err := op(claims)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := OperationResponse{Entry: res.Entry}
	if vehicleID != "" {
		if v, ok := fleet.FindVehicle(res.Vehicles, vehicleID); ok {
			resp.Vehicle = &v
			engine := h.svc.Engine()
			switch res.Entry.Type {
			case models.TxRecall:
				resp.Notice = engine.RecallNotice(v)
			case models.TxEscalation:
				dispatcher := v.RecallBy
				if dispatcher == "" {
					dispatcher = claims.Email
				}
				resp.Notice = engine.EscalationNotice(v, dispatcher)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fleet.ErrIncompleteForm),
		errors.Is(err, fleet.ErrUnknownPersonnel),
		errors.Is(err, fleet.ErrInvalidTransition),
		errors.Is(err, fleet.ErrConfirmationRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fleet.ErrVehicleNotFound),
		errors.Is(err, dispatch.ErrVehicleNotVisible):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, db.ErrDocumentMissing),
		errors.Is(err, db.ErrAlreadyExists),
		errors.Is(err, dispatch.ErrTooManyConflicts):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Fleet request failed")
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("Failed to encode response")
	}
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

func setAttachment(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// HealthCheck reports liveness and whether the fleet document is loaded.
func HealthCheck(svc *dispatch.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view := svc.View("", time.Now())
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"loaded":      view.Loaded,
			"doc_missing": view.DocMissing,
			"revision":    view.Revision,
		})
	}
}
