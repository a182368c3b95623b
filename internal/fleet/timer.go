package fleet

import (
	"math"
	"time"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// SLAState is the traffic-light state of a checked-out unit.
type SLAState string

const (
	SLANotApplicable SLAState = ""
	SLAOK            SLAState = "ok"
	SLAAtRisk        SLAState = "at_risk"
	SLABreached      SLAState = "breached"
)

// atRiskRatio is the share of the SLA after which a unit is flagged at risk.
const atRiskRatio = 0.7

// Thresholds are the time limits the timer engine evaluates against.
type Thresholds struct {
	SLA    time.Duration
	Recall time.Duration
}

// DefaultThresholds returns the 90 minute SLA and 15 minute recall window.
func DefaultThresholds() Thresholds {
	return Thresholds{SLA: 90 * time.Minute, Recall: 15 * time.Minute}
}

// Timing holds the values derived from a vehicle's timestamps at a given
// instant. It is recomputed on demand and never persisted.
type Timing struct {
	ElapsedMinutes int        `json:"elapsed_minutes"`
	SLA            SLAState   `json:"sla_state,omitempty"`
	RecallOverdue  bool       `json:"recall_overdue"`
	RecallDeadline *time.Time `json:"recall_deadline,omitempty"`
}

// SLAMinutes returns the SLA threshold in whole minutes.
func (th Thresholds) SLAMinutes() int {
	return int(th.SLA / time.Minute)
}

// AtRiskMinutes returns floor(0.7 * SLA minutes).
func (th Thresholds) AtRiskMinutes() int {
	return int(math.Floor(atRiskRatio * float64(th.SLAMinutes())))
}

// RecallMinutes returns the recall window in whole minutes.
func (th Thresholds) RecallMinutes() int {
	return int(th.Recall / time.Minute)
}

// Evaluate derives elapsed time, SLA state and recall-overdue flag for v at now.
func (th Thresholds) Evaluate(v models.Vehicle, now time.Time) Timing {
	var t Timing

	if v.CheckedOutAt != nil {
		t.ElapsedMinutes = minutesBetween(*v.CheckedOutAt, now)
		if v.Status != models.StatusAvailable {
			t.SLA = th.slaState(t.ElapsedMinutes)
		}
	}

	if v.Status == models.StatusRecall && v.RecallAt != nil {
		deadline := v.RecallAt.Add(th.Recall)
		t.RecallDeadline = &deadline
		t.RecallOverdue = now.Sub(*v.RecallAt) > th.Recall
	}

	return t
}

func (th Thresholds) slaState(elapsed int) SLAState {
	switch {
	case elapsed >= th.SLAMinutes():
		return SLABreached
	case elapsed >= th.AtRiskMinutes():
		return SLAAtRisk
	default:
		return SLAOK
	}
}

// minutesBetween is floor((to - from) / 1 minute) at millisecond precision.
func minutesBetween(from, to time.Time) int {
	ms := to.Sub(from).Milliseconds()
	return int(math.Floor(float64(ms) / 60000))
}
