package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/freshell/freshell/internal/config"
	"github.com/freshell/freshell/internal/handlers"
	"github.com/freshell/freshell/internal/history"
	"github.com/freshell/freshell/internal/layout"
	"github.com/freshell/freshell/internal/logging"
	"github.com/freshell/freshell/internal/session"
	"github.com/freshell/freshell/internal/terminal"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
)

func main() {
	config.Load()
	logging.Init()

	if config.Cfg.AuthToken == "" {
		log.Printf("WARNING: AUTH_TOKEN is empty, authentication disabled")
	}

	store, err := history.Open(config.Cfg.DatabasePath)
	if err != nil {
		log.Printf("WARNING: session index unavailable: %v", err)
		store = nil
	} else {
		defer store.Close()
	}

	var recorder terminal.Recorder
	if store != nil {
		recorder = store
	}
	registry := terminal.NewRegistry(terminal.Config{
		ScrollbackBytes: config.Cfg.ScrollbackBytes,
		Recorder:        recorder,
	})

	sessionMgr := session.NewManager(session.Config{
		AuthToken:      config.Cfg.AuthToken,
		HelloTimeout:   time.Duration(config.Cfg.HelloTimeoutMS) * time.Millisecond,
		RateLimit:      config.Cfg.TerminalCreateRateLimit,
		RateWindow:     time.Duration(config.Cfg.TerminalCreateRateWindowMS) * time.Millisecond,
		ChunkBytes:     config.Cfg.MaxWSChunkBytes,
		SendQueueLimit: config.Cfg.SendQueueLimit,
	}, registry, nil)

	layoutMgr := layout.NewManager(sessionMgr)
	api := handlers.New(registry, layoutMgr, sessionMgr, store)

	// Periodic maintenance: free exited terminals and bound the session index.
	sched := cron.New()
	sched.AddFunc("@every 10m", func() {
		registry.ReapExited(30 * time.Minute)
	})
	if store != nil {
		retention := time.Duration(config.Cfg.HistoryRetentionDays) * 24 * time.Hour
		sched.AddFunc("@daily", func() {
			if n, err := store.Prune(retention); err != nil {
				log.Printf("History prune: %v", err)
			} else if n > 0 {
				log.Printf("History prune: removed %d sessions", n)
			}
		})
	}
	sched.Start()
	defer sched.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Mount("/", api.Routes(config.Cfg.AuthToken))

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	registry.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
