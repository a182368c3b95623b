package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-dispatch/internal/fleet"
	"github.com/ukydev/fleet-dispatch/internal/metrics"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// AlertKind names the condition an alert reports.
type AlertKind string

const (
	AlertRecallOverdue AlertKind = "recall_overdue"
	AlertSLABreached   AlertKind = "sla_breached"
)

// Alert is published once when a vehicle enters an alarm condition.
type Alert struct {
	Kind           AlertKind `json:"kind"`
	VehicleID      string    `json:"vehicle_id"`
	ElapsedMinutes int       `json:"elapsed_minutes"`
	Message        string    `json:"message"`
	RaisedAt       time.Time `json:"raised_at"`
}

// txQueueSize bounds committed entries waiting for the publisher.
const txQueueSize = 256

// Notifier fans fleet events out to a Publisher under a topic prefix.
type Notifier struct {
	pub     Publisher
	prefix  string
	metrics *metrics.Metrics
	queue   chan models.Transaction
}

// New creates a notifier. An empty prefix defaults to "fleet".
func New(pub Publisher, prefix string, m *metrics.Metrics) *Notifier {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "fleet"
	}
	return &Notifier{pub: pub, prefix: prefix, metrics: m, queue: make(chan models.Transaction, txQueueSize)}
}

// TxTopic and AlertTopic are the topics events are published on.
func (n *Notifier) TxTopic() string    { return n.prefix + "/tx" }
func (n *Notifier) AlertTopic() string { return n.prefix + "/alerts" }

// PublishTransaction sends a committed audit entry.
func (n *Notifier) PublishTransaction(ctx context.Context, tx models.Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	return n.pub.Publish(ctx, n.TxTopic(), payload)
}

// PublishAlert sends an alert.
func (n *Notifier) PublishAlert(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if err := n.pub.Publish(ctx, n.AlertTopic(), payload); err != nil {
		return err
	}
	n.metrics.ObserveAlert(string(a.Kind))
	return nil
}

// TransactionHook queues a committed entry for Run to publish. It never
// blocks; entries are dropped with a warning when the queue is full.
func (n *Notifier) TransactionHook(_ context.Context, tx models.Transaction) {
	select {
	case n.queue <- tx:
	default:
		log.WithFields(log.Fields{
			"tx_id": tx.ID,
			"type":  tx.Type,
		}).Warn("Transaction queue full, dropping entry")
	}
}

// Run publishes queued transactions until ctx ends. Failures are logged.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tx := <-n.queue:
			if err := n.PublishTransaction(ctx, tx); err != nil {
				log.WithFields(log.Fields{
					"tx_id": tx.ID,
					"type":  tx.Type,
					"error": err,
				}).Warn("Failed to publish transaction")
			}
		}
	}
}

// AlertWatcher raises an alert the first time a vehicle is seen in an alarm
// condition and forgets it once the condition clears.
type AlertWatcher struct {
	engine   *fleet.Engine
	notifier *Notifier

	mu     sync.Mutex
	active map[string]bool
}

// NewAlertWatcher creates a watcher using the engine's thresholds and templates.
func NewAlertWatcher(engine *fleet.Engine, n *Notifier) *AlertWatcher {
	return &AlertWatcher{engine: engine, notifier: n, active: make(map[string]bool)}
}

func alertKey(kind AlertKind, vehicleID string) string {
	return string(kind) + "/" + vehicleID
}

// Evaluate returns the alerts not yet published for the conditions present at
// now, and forgets conditions that cleared.
func (w *AlertWatcher) Evaluate(vehicles []models.Vehicle, now time.Time) []Alert {
	th := w.engine.Rules().Thresholds

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool)
	var raised []Alert
	for _, v := range vehicles {
		timing := th.Evaluate(v, now)
		conditions := []struct {
			kind AlertKind
			on   bool
			msg  func() string
		}{
			{AlertRecallOverdue, timing.RecallOverdue, func() string { return w.engine.EscalationNotice(v, v.RecallBy) }},
			{AlertSLABreached, timing.SLA == fleet.SLABreached, func() string {
				return fmt.Sprintf("Unit %s (%s) over SLA: %d min away, last zone %s.",
					v.ID, v.Type.Label(), timing.ElapsedMinutes, v.LastZone)
			}},
		}
		for _, c := range conditions {
			if !c.on {
				continue
			}
			key := alertKey(c.kind, v.ID)
			seen[key] = true
			if w.active[key] {
				continue
			}
			raised = append(raised, Alert{
				Kind:           c.kind,
				VehicleID:      v.ID,
				ElapsedMinutes: timing.ElapsedMinutes,
				Message:        c.msg(),
				RaisedAt:       now,
			})
		}
	}

	for key := range w.active {
		if !seen[key] {
			delete(w.active, key)
		}
	}
	return raised
}

// Check evaluates vehicles and publishes every newly raised alert. An alert
// that fails to publish is retried on the next check. It returns the alerts
// published.
func (w *AlertWatcher) Check(ctx context.Context, vehicles []models.Vehicle, now time.Time) []Alert {
	var published []Alert
	for _, a := range w.Evaluate(vehicles, now) {
		if err := w.notifier.PublishAlert(ctx, a); err != nil {
			log.WithFields(log.Fields{
				"kind":       a.Kind,
				"vehicle_id": a.VehicleID,
				"error":      err,
			}).Warn("Failed to publish alert")
			continue
		}

		w.mu.Lock()
		w.active[alertKey(a.Kind, a.VehicleID)] = true
		w.mu.Unlock()

		log.WithFields(log.Fields{
			"kind":       a.Kind,
			"vehicle_id": a.VehicleID,
		}).Info("Fleet alert raised")
		published = append(published, a)
	}
	return published
}

// Run checks the vehicles returned by source every interval until ctx ends.
func (w *AlertWatcher) Run(ctx context.Context, interval time.Duration, source func() ([]models.Vehicle, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			vehicles, err := source()
			if err != nil {
				continue
			}
			w.Check(ctx, vehicles, w.engine.Now())
		}
	}
}
