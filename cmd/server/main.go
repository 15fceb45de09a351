package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"arcfield.gg/internal/cache"
	"arcfield.gg/internal/migration"
	"arcfield.gg/internal/persistence/accountdb"
	plog "arcfield.gg/internal/persistence/log"
	"arcfield.gg/internal/sim/field"
	"arcfield.gg/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		name       = flag.String("name", "", "service name override (default: services.yaml)")
		disableLog = flag.Bool("disable_traffic_log", false, "disable packet traffic logging")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	svcCfg, err := migration.LoadConfig(filepath.Join(*configDir, "services.yaml"))
	if err != nil {
		logger.Fatalf("load services config: %v", err)
	}
	if strings.TrimSpace(*name) != "" {
		svcCfg.Service.Name = strings.TrimSpace(*name)
	}

	templates, err := field.LoadTemplates(filepath.Join(*configDir, "fields.yaml"))
	if err != nil {
		logger.Fatalf("load field templates: %v", err)
	}

	_ = os.MkdirAll(*dataDir, 0o755)
	db, err := accountdb.Open(filepath.Join(*dataDir, "accounts.db"))
	if err != nil {
		logger.Fatalf("open account db: %v", err)
	}
	defer db.Close()

	// Single-process default. Multi-instance deployments point this boundary
	// at the shared store that all services observe.
	c := cache.NewMemory()

	coord := migration.NewCoordinator(svcCfg.Service, c, db, svcCfg.MigrationTimeout(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := coord.RecoverAccountStates(ctx); err != nil {
		logger.Fatalf("recover account states: %v", err)
	}

	var traffic *plog.TrafficLogger
	if !*disableLog {
		traffic = plog.NewTrafficLogger(*dataDir)
		defer traffic.Close()
	}
	audit := plog.NewMigrationLogger(*dataDir)
	defer audit.Close()

	registry := field.NewRegistry(templates, logger)
	wsServer := ws.NewServer(registry, coord, db, svcCfg, traffic, audit, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", wsServer.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("service %s listening on %s (%d fields)", svcCfg.Service.Name, *addr, len(templates))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
	logger.Printf("shutdown complete")
}
