package dispatch

import (
	"context"

	"github.com/ukydev/fleet-dispatch/internal/auth"
	"github.com/ukydev/fleet-dispatch/internal/fleet"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// Checkout hands vehicleID over as described by form.
func (s *Service) Checkout(ctx context.Context, identity *models.Claims, vehicleID string, form fleet.CheckoutForm) (*fleet.Result, error) {
	return s.Execute(ctx, identity, auth.ActionCheckout, func(st fleet.State) (*fleet.Result, error) {
		return s.engine.Checkout(st, vehicleID, form, identity.Email)
	})
}

// CheckIn returns vehicleID to the key point.
func (s *Service) CheckIn(ctx context.Context, identity *models.Claims, vehicleID string, form fleet.CheckInForm) (*fleet.Result, error) {
	return s.Execute(ctx, identity, auth.ActionCheckIn, func(st fleet.State) (*fleet.Result, error) {
		return s.engine.CheckIn(st, vehicleID, form, identity.Email)
	})
}

// MarkWaiting flags vehicleID as idle.
func (s *Service) MarkWaiting(ctx context.Context, identity *models.Claims, vehicleID string) (*fleet.Result, error) {
	return s.Execute(ctx, identity, auth.ActionWait, func(st fleet.State) (*fleet.Result, error) {
		return s.engine.MarkWaiting(st, vehicleID, identity.Email)
	})
}

// StartRecall recalls vehicleID on behalf of recallBy.
func (s *Service) StartRecall(ctx context.Context, identity *models.Claims, vehicleID, recallBy string) (*fleet.Result, error) {
	return s.Execute(ctx, identity, auth.ActionRecall, func(st fleet.State) (*fleet.Result, error) {
		return s.engine.StartRecall(st, vehicleID, recallBy, identity.Email)
	})
}

// Escalate logs an escalation for vehicleID.
func (s *Service) Escalate(ctx context.Context, identity *models.Claims, vehicleID string) (*fleet.Result, error) {
	return s.Execute(ctx, identity, auth.ActionEscalate, func(st fleet.State) (*fleet.Result, error) {
		return s.engine.Escalate(st, vehicleID, identity.Email)
	})
}

// SetMaintenance takes vehicleID out of service.
func (s *Service) SetMaintenance(ctx context.Context, identity *models.Claims, vehicleID string) (*fleet.Result, error) {
	return s.Execute(ctx, identity, auth.ActionMaintenance, func(st fleet.State) (*fleet.Result, error) {
		return s.engine.SetMaintenance(st, vehicleID, identity.Email)
	})
}

// Reset releases every unit and clears the log.
func (s *Service) Reset(ctx context.Context, identity *models.Claims, confirmed bool) (*fleet.Result, error) {
	return s.Execute(ctx, identity, auth.ActionReset, func(st fleet.State) (*fleet.Result, error) {
		return s.engine.SystemReset(st, confirmed, identity.Email)
	})
}
