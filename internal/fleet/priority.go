package fleet

import (
	"sort"
	"strings"
	"time"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// VehicleView is a vehicle together with its timer-derived fields and the
// status events currently allowed on it.
type VehicleView struct {
	models.Vehicle
	Timing
	Actions []string `json:"actions"`
}

var statusRank = map[models.VehicleStatus]int{
	models.StatusRecall:      0,
	models.StatusInUse:       1,
	models.StatusWaiting:     2,
	models.StatusAvailable:   3,
	models.StatusMaintenance: 4,
}

// Filter keeps the vehicles whose id, type, status, zone or responsible party
// contain query, case-insensitively. An empty query keeps everything.
func Filter(vehicles []models.Vehicle, query string) []models.Vehicle {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return vehicles
	}

	var out []models.Vehicle
	for _, v := range vehicles {
		fields := []string{
			v.ID,
			string(v.Type), v.Type.Label(),
			string(v.Status), v.Status.Label(),
			v.LastZone,
			v.LastUserLabel,
		}
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f), q) {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

// Prioritize evaluates every vehicle at now and orders them by urgency:
// overdue recalls, then SLA breaches, then status rank, then id.
func (th Thresholds) Prioritize(vehicles []models.Vehicle, now time.Time) []VehicleView {
	views := make([]VehicleView, len(vehicles))
	for i, v := range vehicles {
		views[i] = VehicleView{Vehicle: v, Timing: th.Evaluate(v, now), Actions: AvailableEvents(v.Status)}
	}
	sort.SliceStable(views, func(i, j int) bool {
		return urgentFirst(views[i], views[j])
	})
	return views
}

func urgentFirst(a, b VehicleView) bool {
	if a.RecallOverdue != b.RecallOverdue {
		return a.RecallOverdue
	}

	aBreached := a.SLA == SLABreached
	bBreached := b.SLA == SLABreached
	if aBreached != bBreached {
		return aBreached
	}

	if ra, rb := rank(a.Status), rank(b.Status); ra != rb {
		return ra < rb
	}

	return a.ID < b.ID
}

func rank(s models.VehicleStatus) int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return len(statusRank)
}
