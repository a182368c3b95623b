package models

import "time"

// FleetSnapshot is the unit of persistence: the whole fleet and its audit log
// stored as a single shared document.
type FleetSnapshot struct {
	Vehicles  []Vehicle     `bson:"vehicles" json:"vehicles"`
	Tx        []Transaction `bson:"tx" json:"tx"`
	Revision  int64         `bson:"revision" json:"revision"`
	UpdatedAt time.Time     `bson:"updated_at" json:"updated_at"`
	UpdatedBy string        `bson:"updated_by" json:"updated_by"`
	CreatedAt time.Time     `bson:"created_at,omitempty" json:"created_at,omitempty"`
	CreatedBy string        `bson:"created_by,omitempty" json:"created_by,omitempty"`
}

// Clone returns a deep copy so callers can mutate collections freely.
func (s *FleetSnapshot) Clone() *FleetSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Vehicles = CloneVehicles(s.Vehicles)
	out.Tx = append([]Transaction(nil), s.Tx...)
	return &out
}

// CloneVehicles copies a vehicle collection including its timestamp pointers.
func CloneVehicles(in []Vehicle) []Vehicle {
	if in == nil {
		return nil
	}
	out := make([]Vehicle, len(in))
	for i, v := range in {
		if v.CheckedOutAt != nil {
			t := *v.CheckedOutAt
			v.CheckedOutAt = &t
		}
		if v.RecallAt != nil {
			t := *v.RecallAt
			v.RecallAt = &t
		}
		out[i] = v
	}
	return out
}

// PersonnelEntry is a registry user allowed to take a vehicle.
type PersonnelEntry struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}
