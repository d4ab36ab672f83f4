package main

import (
	"context"
	"crypto/tls"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/buildinfo"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/config"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/core/services"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/infrastructure/db"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/infrastructure/logger"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/infrastructure/tlsstore"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/metrics"
	transporthttp "github.com/NimbleStorage/nimble-sap-hana-agent/internal/transport/http"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/transport/http/middleware"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	path := *configPath
	if path == "" {
		if _, err := os.Stat("config/config.yaml"); err == nil {
			path = "config/config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	log.Infow("agent_starting", "build", buildinfo.String(), "vendor", cfg.Database.Vendor)

	m := metrics.New(prometheus.NewRegistry())

	statements, err := db.DefaultStatements(db.Vendor(cfg.Database.Vendor), db.Statements{
		Freeze:           cfg.Database.Statements.Freeze,
		PendingFreezeIDs: cfg.Database.Statements.PendingFreezeIDs,
		Thaw:             cfg.Database.Statements.Thaw,
	})
	if err != nil {
		log.Fatalf("invalid database statements: %v", err)
	}
	session, err := db.NewSession(db.SessionConfig{
		Connection: db.ConnectionConfig{
			Vendor:         db.Vendor(cfg.Database.Vendor),
			Host:           cfg.Database.Host,
			Port:           cfg.Database.Port,
			Instance:       cfg.Database.Instance,
			SSLMode:        cfg.Database.SSLMode,
			ConnectTimeout: cfg.Database.ConnectTimeout,
		},
		Statements:    statements,
		FailureReason: cfg.Database.FailureReason,
		Logger:        log.Named("db"),
	})
	if err != nil {
		log.Fatalf("failed to prepare database session: %v", err)
	}

	events := services.NewEventHub()
	tasks := services.NewTaskRegistry(events)
	windows := services.NewCorrelationStore()

	coordinator := services.NewSnapshotCoordinator(services.SnapshotCoordinatorConfig{
		Session:        session,
		Tasks:          tasks,
		Windows:        windows,
		Logger:         log.Named("coordinator"),
		Metrics:        m,
		TaskTimeout:    cfg.Snapshot.TaskTimeout,
		SettleInterval: cfg.Snapshot.SettleInterval,
	})

	facade := services.NewAgentFacade(services.AgentFacadeConfig{
		Authenticator: services.NewAuthenticator(session, log.Named("auth"), m),
		Coordinator:   coordinator,
		Tasks:         tasks,
		Logger:        log.Named("facade"),
		Metrics:       m,
	})

	reconciler, err := services.NewReconciler(coordinator, cfg.Snapshot.ReconcileSchedule, log.Named("reconciler"))
	if err != nil {
		log.Fatalf("invalid reconcile schedule %q: %v", cfg.Snapshot.ReconcileSchedule, err)
	}

	cert, err := tlsstore.Provision(tlsstore.Config{
		Path:       cfg.TLS.KeystorePath,
		Password:   cfg.TLS.KeystorePassword,
		CommonName: cfg.TLS.CommonName,
		Validity:   cfg.TLS.Validity,
		KeyBits:    cfg.TLS.KeyBits,
		ExtraHosts: cfg.TLS.ExtraHosts,
		Logger:     log.Named("keystore"),
	})
	if err != nil {
		log.Fatalf("failed to provision keystore: %v", err)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		ErrorHandler:          transporthttp.ErrorHandler(log),
		DisableStartupMessage: true,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(middleware.RequestID(cfg.Features.RequestIDHeader))
	if cfg.Features.EnableRequestLogging {
		app.Use(middleware.AccessLog(log))
	}

	transporthttp.SetupRoutes(app, transporthttp.RouterConfig{
		Service: facade,
		Events:  events,
		Metrics: m,
		Logger:  log,
		Config:  cfg,
	})

	ln, err := net.Listen("tcp", cfg.Server.Address())
	if err != nil {
		log.Fatalf("server failed to start: %v", err)
	}
	ln = tls.NewListener(ln, tlsstore.ServerConfig(cert))

	go func() {
		if err := app.Listener(ln); err != nil {
			log.Fatalf("server failed to start: %v", err)
		}
	}()
	reconciler.Start()

	log.Infof("server started on https://%s", cfg.Server.Address())

	gracefulShutdown(app, reconciler, facade, session, cfg.Server.ShutdownTimeout, log)
}

func gracefulShutdown(
	app *fiber.App,
	reconciler *services.Reconciler,
	facade services.AgentFacade,
	session *db.Session,
	timeout time.Duration,
	log *logger.Logger,
) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Errorf("server forced to shutdown: %v", err)
	}

	reconciler.Stop(ctx)

	if err := facade.Shutdown(ctx); err != nil {
		log.Warnw("running prepares interrupted", "error", err)
	}

	if err := session.Close(); err != nil {
		log.Errorf("failed to close database session: %v", err)
	}

	log.Info("server exited gracefully")
}
