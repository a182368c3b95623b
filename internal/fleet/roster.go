package fleet

import "github.com/ukydev/fleet-dispatch/internal/models"

// InitialVehicles returns the fixed roster: six cargo units plus one 2-seat
// and one 4-seat unit, all available.
func InitialVehicles() []models.Vehicle {
	return []models.Vehicle{
		{ID: "C01", Type: models.VehicleTypeCargo, Status: models.StatusAvailable},
		{ID: "C02", Type: models.VehicleTypeCargo, Status: models.StatusAvailable},
		{ID: "C03", Type: models.VehicleTypeCargo, Status: models.StatusAvailable},
		{ID: "C04", Type: models.VehicleTypeCargo, Status: models.StatusAvailable},
		{ID: "C05", Type: models.VehicleTypeCargo, Status: models.StatusAvailable},
		{ID: "C06", Type: models.VehicleTypeCargo, Status: models.StatusAvailable},
		{ID: "P02", Type: models.VehicleTypeTwoSeat, Status: models.StatusAvailable},
		{ID: "P04", Type: models.VehicleTypeFourSeat, Status: models.StatusAvailable},
	}
}

// FindVehicle returns the vehicle with the given ID.
func FindVehicle(vehicles []models.Vehicle, id string) (models.Vehicle, bool) {
	for _, v := range vehicles {
		if v.ID == id {
			return v, true
		}
	}
	return models.Vehicle{}, false
}

// Stats counts units per status plus the timer-derived alarms.
type Stats struct {
	Total         int `json:"total"`
	Available     int `json:"available"`
	InUse         int `json:"in_use"`
	Waiting       int `json:"waiting"`
	Recall        int `json:"recall"`
	Maintenance   int `json:"maintenance"`
	SLABreached   int `json:"sla_breached"`
	RecallOverdue int `json:"recall_overdue"`
}

// Count computes Stats over evaluated vehicle views.
func Count(views []VehicleView) Stats {
	s := Stats{Total: len(views)}
	for _, v := range views {
		switch v.Status {
		case models.StatusAvailable:
			s.Available++
		case models.StatusInUse:
			s.InUse++
		case models.StatusWaiting:
			s.Waiting++
		case models.StatusRecall:
			s.Recall++
		case models.StatusMaintenance:
			s.Maintenance++
		}
		if v.SLA == SLABreached {
			s.SLABreached++
		}
		if v.RecallOverdue {
			s.RecallOverdue++
		}
	}
	return s
}
