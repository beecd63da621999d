/*
main.go - Application entry point

PURPOSE:
  Starts the facility dispensary server: the stock ledger, the Protocol-20k
  guard and the HTTP API for the facility UI.

STARTUP SEQUENCE:
  1. Parse command-line flags, load configuration
  2. Build the logger
  3. Open the SQLite store, provision the patient directory if empty
  4. Wire ledger, service, connectivity and API handler
  5. Start the connectivity prober (when a probe URL is configured)
  6. Serve with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional; env vars such as HTTP_PORT override)
  -port    HTTP server port, overrides http.port
  -db      SQLite database path, overrides db.path
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the prober
  2. Stop accepting new connections, let requests finish (30s timeout)
  3. Close the database

EXAMPLES:
  ./server -config=./config/dispensary.yaml
  FACILITY_MUNICIPALITY=Lubuagan ./server -db=":memory:"
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/yakap-link/dispensary/api"
	"github.com/yakap-link/dispensary/config"
	"github.com/yakap-link/dispensary/directory"
	"github.com/yakap-link/dispensary/dispensary"
	"github.com/yakap-link/dispensary/facility"
	"github.com/yakap-link/dispensary/ledger"
	"github.com/yakap-link/dispensary/logging"
	"github.com/yakap-link/dispensary/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logging.New(logging.Config{})
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}
	if *dbPath != "" {
		cfg.DB.Path = *dbPath
	}

	log := logging.New(logging.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	// Initialize store
	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DB.Path).Msg("failed to initialize database")
	}
	defer store.Close()

	if err := seedDirectory(context.Background(), store, cfg.Directory.SeedPath, log); err != nil {
		log.Fatal().Err(err).Msg("failed to seed patient directory")
	}

	// Core
	l := ledger.NewLedger(store).WithLogger(log)
	svc := dispensary.NewService(l, ledger.NewValidator(cfg.Ledger.MaxQuantity)).WithLogger(log)

	toggle := facility.NewToggle(cfg.Facility.Online)
	fac := facility.Facility{Municipality: cfg.Facility.Municipality, Connectivity: toggle}

	prober := facility.NewProber(cfg.Facility.ProbeURL, toggle, log)
	prober.CheckInterval = cfg.Facility.ProbeInterval
	prober.Start()

	// HTTP
	handler := api.NewHandler(svc, store, fac, log)
	handler.HealthCheck = store.Ping
	router := api.NewRouter(handler)

	// Request contexts derive from baseCtx so open stock streams end on shutdown.
	baseCtx, stopStreams := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:        cfg.HTTP.Addr(),
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
		ReadTimeout: 15 * time.Second,
		// No write timeout: stock streams stay open for the life of the UI.
		IdleTimeout: 60 * time.Second,
	}
	server.RegisterOnShutdown(stopStreams)

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("municipality", fac.Municipality).
			Bool("online", toggle.IsOnline()).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	prober.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// seedDirectory provisions an empty patient directory from the seed file.
func seedDirectory(ctx context.Context, store *sqlite.Store, path string, log zerolog.Logger) error {
	if path == "" {
		return nil
	}

	patients, err := directory.LoadSeed(path)
	if err != nil {
		return err
	}
	n, err := store.SeedPatients(ctx, patients)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info().Str("path", path).Int("patients", n).Msg("patient directory seeded")
	}
	return nil
}
