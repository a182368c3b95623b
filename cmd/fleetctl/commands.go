package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/fleet"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// deps builds what the commands need, so tests can swap in a memory store.
type deps struct {
	engine func() (*fleet.Engine, error)
	store  func(ctx context.Context) (db.SnapshotStore, func(), error)
}

// session is an opened store plus the engine evaluating it.
type session struct {
	engine *fleet.Engine
	store  db.SnapshotStore
	close  func()
}

func (d *deps) open(ctx context.Context) (*session, error) {
	engine, err := d.engine()
	if err != nil {
		return nil, err
	}
	store, closeFn, err := d.store(ctx)
	if err != nil {
		return nil, err
	}
	return &session{engine: engine, store: store, close: closeFn}, nil
}

// load opens a session and reads the fleet document.
func (d *deps) load(ctx context.Context) (*session, *models.FleetSnapshot, error) {
	s, err := d.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	snap, err := s.store.Load(ctx)
	if err != nil {
		s.close()
		if errors.Is(err, db.ErrDocumentMissing) {
			return nil, nil, fmt.Errorf("%w: run 'fleetctl init' first", err)
		}
		return nil, nil, err
	}
	return s, snap, nil
}

func newRootCmd(d *deps) *cobra.Command {
	root := &cobra.Command{
		Use:          "fleetctl",
		Short:        "Inspect and administer the EV fleet dispatch document",
		SilenceUsage: true,
	}
	root.AddCommand(
		statusCmd(d),
		summaryCmd(d),
		auditCmd(d),
		exportCmd(d),
		initCmd(d),
		resetCmd(d),
	)
	return root
}

var errUnknownStatus = errors.New("unknown status")

func statusCmd(d *deps) *cobra.Command {
	var query, status string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show every vehicle sorted by urgency",
		Long: `Show every vehicle sorted by urgency.

Overdue recalls come first, then units past the SLA, then by status.

Examples:
  fleetctl status
  fleetctl status --query expo
  fleetctl status --status recall`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !models.IsValidStatus(models.VehicleStatus(status)) {
				return fmt.Errorf("%w %q", errUnknownStatus, status)
			}

			s, snap, err := d.load(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			now := s.engine.Now()
			th := s.engine.Rules().Thresholds
			var selected []models.Vehicle
			for _, v := range fleet.Filter(snap.Vehicles, query) {
				if status == "" || v.Status == models.VehicleStatus(status) {
					selected = append(selected, v)
				}
			}
			views := th.Prioritize(selected, now)
			stats := fleet.Count(th.Prioritize(snap.Vehicles, now))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Revision %d, updated %s by %s\n",
				snap.Revision, snap.UpdatedAt.Local().Format("2006-01-02 15:04"), orDash(snap.UpdatedBy))
			fmt.Fprintf(out, "Available %d/%d | In use %d | Waiting %d | Recall %d | Maintenance %d\n\n",
				stats.Available, stats.Total, stats.InUse, stats.Waiting, stats.Recall, stats.Maintenance)

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "UNIT\tTYPE\tSTATUS\tTIME\tZONE\tRESPONSIBLE")
			for _, v := range views {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					v.ID, v.Type.Label(), statusLabel(v), elapsedLabel(v), orDash(v.LastZone), orDash(v.LastUserLabel))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "filter by id, type, status, zone or responsible")
	cmd.Flags().StringVar(&status, "status", "", "only show units in this status (available, in_use, waiting, recall, maintenance)")
	return cmd
}

func summaryCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print the shift summary message",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, snap, err := d.load(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			fmt.Fprintln(cmd.OutOrStdout(), s.engine.FleetSummary(snap.Vehicles, s.engine.Now()))
			return nil
		},
	}
}

func auditCmd(d *deps) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List the most recent transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, snap, err := d.load(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			entries := fleet.TruncateTx(snap.Tx, limit)
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No transactions.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTYPE\tUNIT\tACTOR\tSUMMARY")
			for _, tx := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					tx.Timestamp.Local().Format("01-02 15:04"), txLabel(tx.Type), tx.VehicleID, orDash(tx.Actor), tx.Summary)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

func exportCmd(d *deps) *cobra.Command {
	var (
		audit  bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the vehicle table or the audit log as CSV",
		Long: `Write the vehicle table or the audit log as CSV.

Without --output the file is named after the current time. Use -o - for stdout.

Examples:
  fleetctl export
  fleetctl export --audit -o audit.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, snap, err := d.load(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			now := s.engine.Now()
			prefix := "fleet_snapshot"
			if audit {
				prefix = "fleet_audit"
			}
			if output == "" {
				output = fleet.ExportFilename(prefix, now)
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			if audit {
				err = fleet.WriteAuditCSV(w, snap.Tx)
			} else {
				err = s.engine.Rules().Thresholds.WriteSnapshotCSV(w, snap.Vehicles, now)
			}
			if err != nil {
				return err
			}
			if output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.New(color.FgGreen).Sprint("Wrote"), output)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&audit, "audit", false, "export the transaction log instead of vehicles")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout")
	return cmd
}

func initCmd(d *deps) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the fleet document with the fixed roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := d.open(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			now := s.engine.Now()
			err = s.store.Initialize(ctx, models.FleetSnapshot{
				Vehicles:  fleet.InitialVehicles(),
				Tx:        []models.Transaction{},
				UpdatedAt: now,
				UpdatedBy: actor,
				CreatedAt: now,
				CreatedBy: actor,
			})
			if errors.Is(err, db.ErrAlreadyExists) {
				fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgYellow).Sprint("Fleet document already exists."))
				return nil
			}
			if err != nil {
				return err
			}
			log.WithField("actor", actor).Info("Fleet document initialized")
			fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgGreen).Sprint("Fleet document created."))
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "fleetctl", "email recorded as creator")
	return cmd
}

func resetCmd(d *deps) *cobra.Command {
	var (
		actor string
		yes   bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Release every unit and clear the log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, snap, err := d.load(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.engine.SystemReset(fleet.State{Vehicles: snap.Vehicles, Tx: snap.Tx}, yes, actor)
			if errors.Is(err, fleet.ErrConfirmationRequired) {
				return fmt.Errorf("%w: pass --yes", err)
			}
			if err != nil {
				return err
			}

			next := *snap
			next.Vehicles = res.Vehicles
			next.Tx = res.Tx
			next.UpdatedAt = s.engine.Now()
			next.UpdatedBy = actor
			rev, err := s.store.Write(ctx, next, snap.Revision)
			if err != nil {
				return fmt.Errorf("failed to write reset: %w", err)
			}

			log.WithFields(log.Fields{
				"actor":    actor,
				"revision": rev,
			}).Info("Fleet reset")
			fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgGreen).Sprintf("Fleet reset (revision %d).", rev))
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "fleetctl", "email recorded in the log")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func statusLabel(v fleet.VehicleView) string {
	label := v.Status.Label()
	switch {
	case v.RecallOverdue:
		return color.New(color.FgRed, color.Bold).Sprint(label + " OVERDUE")
	case v.SLA == fleet.SLABreached:
		return color.New(color.FgRed).Sprint(label + " SLA!")
	case v.SLA == fleet.SLAAtRisk:
		return color.New(color.FgYellow).Sprint(label)
	}
	switch v.Status {
	case models.StatusAvailable:
		return color.New(color.FgGreen).Sprint(label)
	case models.StatusRecall:
		return color.New(color.FgMagenta).Sprint(label)
	case models.StatusMaintenance:
		return color.New(color.FgHiBlack).Sprint(label)
	default:
		return color.New(color.FgBlue).Sprint(label)
	}
}

func elapsedLabel(v fleet.VehicleView) string {
	if v.CheckedOutAt == nil {
		return "-"
	}
	return fmt.Sprintf("%d min", v.ElapsedMinutes)
}

func txLabel(t models.TransactionType) string {
	return strings.ToUpper(strings.ReplaceAll(string(t), "_", " "))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
