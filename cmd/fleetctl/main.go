// Command fleetctl inspects and administers the shared fleet document
// directly in the store, without going through the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-dispatch/internal/config"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/fleet"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	d := &deps{
		engine: func() (*fleet.Engine, error) {
			var dir *fleet.Directory
			if cfg.DirectoryFile != "" {
				d, err := fleet.LoadDirectory(cfg.DirectoryFile, cfg.DefaultReturnZone)
				if err != nil {
					return nil, err
				}
				dir = d
			}
			return fleet.NewEngine(fleet.Rules{
				KeyPoint:          cfg.KeyPoint,
				DefaultReturnZone: cfg.DefaultReturnZone,
				AuditCap:          cfg.AuditCap,
				Thresholds:        fleet.Thresholds{SLA: cfg.SLA, Recall: cfg.Recall},
			}, dir), nil
		},
		store: func(ctx context.Context) (db.SnapshotStore, func(), error) {
			client, err := db.ConnectMongo(ctx, cfg.MongoURI)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			coll := client.Database(cfg.MongoDB).Collection(cfg.DispatchCollection)
			return db.NewMongoSnapshotStore(coll, cfg.DispatchDocID, cfg.PollInterval), func() {
				_ = client.Disconnect(context.Background())
			}, nil
		},
	}

	if err := newRootCmd(d).Execute(); err != nil {
		os.Exit(1)
	}
}
