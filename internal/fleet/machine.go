package fleet

import (
	"sort"

	"github.com/looplab/fsm"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// Events that move a vehicle between statuses.
const (
	EventCheckout    = "checkout"
	EventCheckIn     = "checkin"
	EventWait        = "wait"
	EventRecall      = "recall"
	EventMaintenance = "maintenance"
)

var (
	allStatuses = []string{
		string(models.StatusAvailable),
		string(models.StatusInUse),
		string(models.StatusWaiting),
		string(models.StatusRecall),
		string(models.StatusMaintenance),
	}
	awayStatuses = []string{
		string(models.StatusInUse),
		string(models.StatusWaiting),
		string(models.StatusRecall),
	}
)

// transitions keeps every reachable state consistent with the rule that a
// unit has a checkout time exactly while it is away from the key point.
var transitions = fsm.Events{
	{Name: EventCheckout, Src: append([]string{string(models.StatusAvailable)}, awayStatuses...), Dst: string(models.StatusInUse)},
	{Name: EventCheckIn, Src: allStatuses, Dst: string(models.StatusAvailable)},
	{Name: EventWait, Src: awayStatuses, Dst: string(models.StatusWaiting)},
	{Name: EventRecall, Src: awayStatuses, Dst: string(models.StatusRecall)},
	{Name: EventMaintenance, Src: []string{string(models.StatusAvailable)}, Dst: string(models.StatusMaintenance)},
}

func newMachine(status models.VehicleStatus) *fsm.FSM {
	return fsm.NewFSM(string(status), transitions, fsm.Callbacks{})
}

// CanTransition reports whether event is allowed from status.
func CanTransition(status models.VehicleStatus, event string) bool {
	return newMachine(status).Can(event)
}

// AvailableEvents lists the events allowed from status, sorted by name.
func AvailableEvents(status models.VehicleStatus) []string {
	events := newMachine(status).AvailableTransitions()
	sort.Strings(events)
	return events
}
