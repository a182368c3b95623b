package fleet

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

const noValue = "-"

// RecallNotice is the text sent to the responsible party of a recalled unit.
func (e *Engine) RecallNotice(v models.Vehicle) string {
	deadline := noValue
	if v.RecallAt != nil {
		deadline = v.RecallAt.Add(e.rules.Thresholds.Recall).Format("15:04")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "RECALL EV Fleet | Unit %s (%s)\n", v.ID, v.Type.Label())
	fmt.Fprintf(&b, "Last zone: %s\n", orDash(v.LastZone))
	fmt.Fprintf(&b, "Responsible: %s\n", orDash(v.LastUserLabel))
	fmt.Fprintf(&b, "Please return to %s before %s.\n", e.rules.KeyPoint, deadline)
	b.WriteString("Thank you.")
	return b.String()
}

// EscalationNotice is the text produced when a recall is overdue.
func (e *Engine) EscalationNotice(v models.Vehicle, dispatcher string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ESCALATION Overdue recall | Unit %s (%s)\n", v.ID, v.Type.Label())
	fmt.Fprintf(&b, "Last zone: %s\n", orDash(v.LastZone))
	fmt.Fprintf(&b, "Responsible: %s\n", orDash(v.LastUserLabel))
	b.WriteString("Support needed for immediate recovery and reassignment.\n")
	fmt.Fprintf(&b, "- Dispatcher: %s", orDash(dispatcher))
	return b.String()
}

// FleetSummary is the shift overview listing every unit not available, by id.
// SLA and recall flags only appear when raised.
func (e *Engine) FleetSummary(vehicles []models.Vehicle, now time.Time) string {
	th := e.rules.Thresholds
	views := make([]VehicleView, len(vehicles))
	for i, v := range vehicles {
		views[i] = VehicleView{Vehicle: v, Timing: th.Evaluate(v, now)}
	}
	stats := Count(views)

	var active []VehicleView
	for _, v := range views {
		if v.Status != models.StatusAvailable {
			active = append(active, v)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	lines := make([]string, 0, len(active))
	for _, v := range active {
		var flags []string
		if v.CheckedOutAt != nil && v.ElapsedMinutes >= th.SLAMinutes() {
			flags = append(flags, "SLA!")
		}
		if v.RecallOverdue {
			flags = append(flags, "RECALL OVERDUE!")
		}

		elapsed := noValue
		if v.CheckedOutAt != nil {
			elapsed = fmt.Sprintf("%d min", v.ElapsedMinutes)
		}

		head := fmt.Sprintf("• %s (%s) - %s", v.ID, v.Type.Label(), v.Status.Label())
		if len(flags) > 0 {
			head += " " + strings.Join(flags, " ")
		}
		lines = append(lines, fmt.Sprintf("%s\n  Zone: %s\n  Resp: %s\n  Time: %s",
			head, orDash(v.LastZone), orDash(v.LastUserLabel), elapsed))
	}

	var b strings.Builder
	b.WriteString("EV Fleet Control - Moon Zone\n")
	fmt.Fprintf(&b, "Key point: %s\n", e.rules.KeyPoint)
	fmt.Fprintf(&b, "Available: %d/%d | In use: %d | Waiting: %d | Recall: %d\n\n",
		stats.Available, stats.Total, stats.InUse, stats.Waiting, stats.Recall)
	if len(lines) == 0 {
		b.WriteString("No units in use, waiting or recalled.")
	} else {
		b.WriteString(strings.Join(lines, "\n\n"))
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return noValue
	}
	return s
}
