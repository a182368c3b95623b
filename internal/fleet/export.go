package fleet

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

var snapshotHeader = []string{
	"timestamp",
	"vehicle_id",
	"vehicle_type",
	"status",
	"last_zone",
	"responsible",
	"purpose",
	"minutes_since_checkout",
	"checked_out_at",
	"recall_at",
	"recall_by",
	"notes",
}

var auditHeader = []string{"ts", "type", "vehicle_id", "summary", "actor"}

// WriteSnapshotCSV dumps the current vehicle state for manual distribution.
func (th Thresholds) WriteSnapshotCSV(w io.Writer, vehicles []models.Vehicle, now time.Time) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(snapshotHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	stamp := now.UTC().Format(time.RFC3339)
	for _, v := range vehicles {
		minutes := ""
		if v.CheckedOutAt != nil {
			minutes = strconv.Itoa(th.Evaluate(v, now).ElapsedMinutes)
		}
		row := []string{
			stamp,
			v.ID,
			v.Type.Label(),
			v.Status.Label(),
			v.LastZone,
			v.LastUserLabel,
			v.LastPurpose,
			minutes,
			isoOrEmpty(v.CheckedOutAt),
			isoOrEmpty(v.RecallAt),
			v.RecallBy,
			v.LastNotes,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row %s: %w", v.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteAuditCSV dumps the transaction log, newest first.
func WriteAuditCSV(w io.Writer, log []models.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(auditHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, tx := range log {
		row := []string{
			tx.Timestamp.UTC().Format(time.RFC3339),
			string(tx.Type),
			tx.VehicleID,
			tx.Summary,
			tx.Actor,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row %s: %w", tx.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportFilename names a snapshot export taken at now.
func ExportFilename(prefix string, now time.Time) string {
	stamp := strings.ReplaceAll(now.UTC().Format("2006-01-02T15:04:05"), ":", "-")
	return fmt.Sprintf("%s_%s.csv", prefix, stamp)
}

func isoOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
