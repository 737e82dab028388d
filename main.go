package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/webterm/webterm/internal/bridge"
	"github.com/webterm/webterm/internal/config"
	"github.com/webterm/webterm/internal/database"
	"github.com/webterm/webterm/internal/handlers"
	"github.com/webterm/webterm/internal/logging"
)

func main() {
	config.Load()
	logging.Init(config.Cfg.LogPath)

	if err := database.Init(config.Cfg.DatabasePath); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	mgr := bridge.NewManager(bridge.Config{
		DefaultSSHPort: config.Cfg.DefaultSSHPort,
		DialTimeout:    mustDuration("dial_timeout", config.Cfg.DialTimeout),
		ReadTimeout:    mustDuration("read_timeout", config.Cfg.ReadTimeout),
		GracePeriod:    mustDuration("cleanup_grace_period", config.Cfg.CleanupGracePeriod),
		KnownHostsFile: config.Cfg.KnownHostsFile,
		RecordingDir:   config.Cfg.RecordingDir,
	})
	handlers.Mgr = mgr
	log.Printf("Bridge manager initialized (recording=%q, known_hosts=%q)",
		config.Cfg.RecordingDir, config.Cfg.KnownHostsFile)

	// Scheduled pruning of closed session records
	if database.DB != nil {
		retention := mustDuration("history_retention", config.Cfg.HistoryRetention)
		scheduler := cron.New()
		if _, err := scheduler.AddFunc(config.Cfg.PruneSchedule, func() {
			n, err := database.PruneSessionRecords(retention)
			if err != nil {
				log.Printf("Session history prune failed: %v", err)
				return
			}
			if n > 0 {
				log.Printf("Pruned %d session records older than %s", n, retention)
			}
		}); err != nil {
			log.Fatalf("Invalid prune schedule %q: %v", config.Cfg.PruneSchedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	// Terminal bridge WebSocket
	r.Get("/ws/terminal", handlers.TerminalWS)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sessions", handlers.ListSessions)
		r.Delete("/sessions/{id}", handlers.CloseSession)
		r.Get("/sessions/history", handlers.SessionHistory)
		r.Get("/logs", handlers.ServerLogs)
		r.Delete("/logs", handlers.ClearServerLogs)
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("Received %s, shutting down", sig)

		mgr.CloseAll()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	}()

	log.Printf("webterm listening on %s", config.Cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server: %v", err)
	}
	<-done
}

func mustDuration(name, value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid %s %q: %v", name, value, err)
	}
	return d
}
