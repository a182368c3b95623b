package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ukydev/fleet-dispatch/internal/auth"
	"github.com/ukydev/fleet-dispatch/internal/config"
	"github.com/ukydev/fleet-dispatch/internal/db"
	"github.com/ukydev/fleet-dispatch/internal/dispatch"
	"github.com/ukydev/fleet-dispatch/internal/fleet"
	"github.com/ukydev/fleet-dispatch/internal/handlers"
	"github.com/ukydev/fleet-dispatch/internal/metrics"
	"github.com/ukydev/fleet-dispatch/internal/middleware"
	"github.com/ukydev/fleet-dispatch/internal/models"
	"github.com/ukydev/fleet-dispatch/internal/notifier"
)

// app is the wired service graph behind the HTTP server.
type app struct {
	cfg      *config.Config
	svc      *dispatch.Service
	users    db.UserCollection
	auth     *auth.Service
	policy   *auth.AllowListPolicy
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	notifier *notifier.Notifier
	watcher  *notifier.AlertWatcher
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
	log.Info("Server stopped")
}

func setupLogging(level string) {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func run(ctx context.Context, cfg *config.Config) error {
	store, users, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	pub := newPublisher(cfg)
	defer pub.Close()

	a, err := newApp(cfg, store, users, pub)
	if err != nil {
		return err
	}
	a.svc.Start(ctx)
	defer a.svc.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(log.Fields{
			"port":  cfg.Port,
			"store": cfg.StoreDriver,
		}).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.watcher.Run(gctx, cfg.TickInterval, a.vehicles)
		return nil
	})
	g.Go(func() error {
		a.notifier.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStores connects the snapshot and user stores for the configured driver.
func openStores(ctx context.Context, cfg *config.Config) (db.SnapshotStore, db.UserCollection, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("Using in-memory store, state is lost on restart")
		return db.NewMemorySnapshotStore(), db.NewMemoryUserCollection(), func() {}, nil

	case "mongo", "":
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")

		database := client.Database(cfg.MongoDB)
		users := &db.MongoUserCollection{Collection: database.Collection(cfg.UserCollection)}
		if err := users.EnsureIndexes(ctx); err != nil {
			log.WithError(err).Warn("Failed to create user indexes")
		}
		store := db.NewMongoSnapshotStore(database.Collection(cfg.DispatchCollection), cfg.DispatchDocID, cfg.PollInterval)

		closeFn := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(dctx); err != nil {
				log.WithError(err).Warn("Failed to disconnect from MongoDB")
			}
		}
		return store, users, closeFn, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// newPublisher connects to the MQTT broker when one is configured. A broker
// that cannot be reached falls back to dropping notifications.
func newPublisher(cfg *config.Config) notifier.Publisher {
	if cfg.MQTTBroker == "" {
		return notifier.NoopPublisher{}
	}
	pub, err := notifier.NewMQTTPublisher(notifier.MQTTConfig{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
		QoS:      1,
	})
	if err != nil {
		log.WithFields(log.Fields{
			"broker": cfg.MQTTBroker,
			"error":  err,
		}).Warn("MQTT unavailable, notifications disabled")
		return notifier.NoopPublisher{}
	}
	return pub
}

func newEngine(cfg *config.Config) (*fleet.Engine, error) {
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
}

func newApp(cfg *config.Config, store db.SnapshotStore, users db.UserCollection, pub notifier.Publisher) (*app, error) {
	engine, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}

	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	policy := auth.NewAllowListPolicy(cfg.AdminEmails)
	svc := dispatch.NewService(store, engine, policy, m)

	n := notifier.New(pub, cfg.MQTTTopicPrefix, m)
	svc.OnCommit(n.TransactionHook)

	return &app{
		cfg:      cfg,
		svc:      svc,
		users:    users,
		auth:     authService,
		policy:   policy,
		registry: registry,
		metrics:  m,
		notifier: n,
		watcher:  notifier.NewAlertWatcher(engine, n),
	}, nil
}

// vehicles feeds the alert watcher from the confirmed mirror.
func (a *app) vehicles() ([]models.Vehicle, error) {
	snap, err := a.svc.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Vehicles, nil
}

func (a *app) router() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger)

	r.Handle("/health", handlers.HealthCheck(a.svc)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	authHandler := handlers.NewAuthHandler(a.auth, a.users, a.policy, a.cfg.SignupDomain)
	limiter := middleware.NewRateLimitMiddleware().RateLimit(20, 60)
	r.Handle("/api/auth/login", limiter(http.HandlerFunc(authHandler.Login))).Methods(http.MethodPost)
	r.Handle("/api/auth/register", limiter(http.HandlerFunc(authHandler.Register))).Methods(http.MethodPost)

	api := r.NewRoute().Subrouter()
	api.Use(middleware.NewAuthMiddleware(a.auth).Authenticate)
	api.HandleFunc("/api/auth/profile", authHandler.GetProfile).Methods(http.MethodGet)
	api.HandleFunc("/api/auth/profile", authHandler.UpdateProfile).Methods(http.MethodPut)
	api.HandleFunc("/api/auth/change-password", authHandler.ChangePassword).Methods(http.MethodPost)

	stream := handlers.NewStreamHandler(a.svc, a.cfg.TickInterval, a.metrics)
	api.Handle("/api/fleet/stream", middleware.RequireAction(a.policy, auth.ActionView)(stream)).Methods(http.MethodGet)
	handlers.NewFleetHandler(a.svc, a.cfg.DefaultRecallBy).Routes(api, a.policy)

	return r
}
