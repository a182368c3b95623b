package models

import "time"

// TransactionType classifies an audit log entry.
type TransactionType string

const (
	TxCheckout     TransactionType = "checkout"
	TxCheckIn      TransactionType = "checkin"
	TxRecall       TransactionType = "recall"
	TxEscalation   TransactionType = "escalation"
	TxStatusChange TransactionType = "status_change"
	TxSystemReset  TransactionType = "system_reset"
)

// FleetWideVehicleID is used as the target of events that touch every unit.
const FleetWideVehicleID = "ALL"

// Transaction is an immutable audit record produced by a transition.
type Transaction struct {
	ID        string          `bson:"id" json:"id"`
	Timestamp time.Time       `bson:"ts" json:"ts"`
	Type      TransactionType `bson:"type" json:"type"`
	VehicleID string          `bson:"vehicle_id" json:"vehicle_id"`
	Summary   string          `bson:"summary" json:"summary"`
	Actor     string          `bson:"actor,omitempty" json:"actor,omitempty"`
}
