package dispatch

import (
	"time"

	"github.com/ukydev/fleet-dispatch/internal/fleet"
)

// FleetView is what a dashboard renders: the prioritized, filtered fleet with
// its derived timers and the mirror's sync status.
type FleetView struct {
	Vehicles      []fleet.VehicleView `json:"vehicles"`
	Stats         fleet.Stats         `json:"stats"`
	Revision      int64               `json:"revision"`
	UpdatedAt     *time.Time          `json:"updated_at,omitempty"`
	UpdatedBy     string              `json:"updated_by,omitempty"`
	KeyPoint      string              `json:"key_point"`
	SLAMinutes    int                 `json:"sla_minutes"`
	RecallMinutes int                 `json:"recall_minutes"`
	Loaded        bool                `json:"loaded"`
	DocMissing    bool                `json:"doc_missing"`
	Pending       bool                `json:"pending"`
	Error         string              `json:"error,omitempty"`
	GeneratedAt   time.Time           `json:"generated_at"`
}

// View evaluates the mirror at now. Stats cover the whole fleet; vehicles
// are filtered by query and sorted by urgency.
func (s *Service) View(query string, now time.Time) FleetView {
	rules := s.engine.Rules()
	th := rules.Thresholds

	s.mu.RLock()
	snap := s.snap.Clone()
	view := FleetView{
		KeyPoint:      rules.KeyPoint,
		SLAMinutes:    th.SLAMinutes(),
		RecallMinutes: th.RecallMinutes(),
		Loaded:        s.loaded,
		DocMissing:    s.docMissing,
		Pending:       s.pending,
		Error:         s.lastErr,
		GeneratedAt:   now,
		Vehicles:      []fleet.VehicleView{},
	}
	s.mu.RUnlock()

	if snap == nil {
		return view
	}

	view.Revision = snap.Revision
	view.UpdatedBy = snap.UpdatedBy
	if !snap.UpdatedAt.IsZero() {
		updated := snap.UpdatedAt
		view.UpdatedAt = &updated
	}
	view.Stats = fleet.Count(th.Prioritize(snap.Vehicles, now))
	if vs := th.Prioritize(fleet.Filter(snap.Vehicles, query), now); len(vs) > 0 {
		view.Vehicles = vs
	}
	return view
}
