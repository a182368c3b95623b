package models

import "time"

// VehicleType is the body class of a fleet unit.
type VehicleType string

const (
	VehicleTypeCargo    VehicleType = "cargo"
	VehicleTypeTwoSeat  VehicleType = "2-seat"
	VehicleTypeFourSeat VehicleType = "4-seat"
)

// VehicleStatus is where a unit is in its dispatch lifecycle.
type VehicleStatus string

const (
	StatusAvailable   VehicleStatus = "available"
	StatusInUse       VehicleStatus = "in_use"
	StatusWaiting     VehicleStatus = "waiting"
	StatusRecall      VehicleStatus = "recall"
	StatusMaintenance VehicleStatus = "maintenance"
)

// Vehicle represents one physical unit issued from the key point.
// The Last* fields and timestamps are only present while relevant.
type Vehicle struct {
	ID            string        `bson:"id" json:"id"`
	Type          VehicleType   `bson:"type" json:"type"`
	Status        VehicleStatus `bson:"status" json:"status"`
	LastZone      string        `bson:"last_zone,omitempty" json:"last_zone,omitempty"`
	LastUserLabel string        `bson:"last_user_label,omitempty" json:"last_user_label,omitempty"`
	LastPurpose   string        `bson:"last_purpose,omitempty" json:"last_purpose,omitempty"`
	LastNotes     string        `bson:"last_notes,omitempty" json:"last_notes,omitempty"`
	CheckedOutAt  *time.Time    `bson:"checked_out_at,omitempty" json:"checked_out_at,omitempty"`
	RecallAt      *time.Time    `bson:"recall_at,omitempty" json:"recall_at,omitempty"`
	RecallBy      string        `bson:"recall_by,omitempty" json:"recall_by,omitempty"`
}

// IsAway reports whether the status means the unit is away from the key point.
func (s VehicleStatus) IsAway() bool {
	switch s {
	case StatusInUse, StatusWaiting, StatusRecall:
		return true
	default:
		return false
	}
}

// Label returns the operator-facing name of the status.
func (s VehicleStatus) Label() string {
	switch s {
	case StatusAvailable:
		return "Available"
	case StatusInUse:
		return "In use"
	case StatusWaiting:
		return "Waiting"
	case StatusRecall:
		return "Recall"
	case StatusMaintenance:
		return "Maintenance"
	default:
		return string(s)
	}
}

// IsValidStatus checks if a status is one of the known values
func IsValidStatus(s VehicleStatus) bool {
	switch s {
	case StatusAvailable, StatusInUse, StatusWaiting, StatusRecall, StatusMaintenance:
		return true
	default:
		return false
	}
}

// Label returns the operator-facing name of the vehicle type.
func (t VehicleType) Label() string {
	switch t {
	case VehicleTypeCargo:
		return "Cargo"
	case VehicleTypeTwoSeat:
		return "2-seat"
	case VehicleTypeFourSeat:
		return "4-seat"
	default:
		return string(t)
	}
}
