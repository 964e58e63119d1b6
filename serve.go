package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/gluk-w/cargocult/internal/audit"
	"github.com/gluk-w/cargocult/internal/config"
	"github.com/gluk-w/cargocult/internal/database"
	"github.com/gluk-w/cargocult/internal/handlers"
	"github.com/gluk-w/cargocult/internal/logging"
	"github.com/gluk-w/cargocult/internal/sandbox"
	"github.com/gluk-w/cargocult/internal/sessions"
	"github.com/gluk-w/cargocult/internal/sshkeys"
	"github.com/gluk-w/cargocult/internal/sshserver"
	"github.com/gluk-w/cargocult/internal/store"
)

const (
	reaperSpec         = "@every 1m"
	auditPurgeSpec     = "@daily"
	defaultIdleTimeout = time.Hour
)

var sshCmd = &cobra.Command{
	Use:   "ssh",
	Short: "Serve the menu over SSH",
	Long: `Serve the menu over SSH on CARGOCULT_SSH_ADDR. Every username is
accepted without authentication; a username in brackets such as [ripgrep]
skips the menu and opens that gallery project.

When CARGOCULT_ADMIN_ADDR is set an HTTP admin API and a WebSocket terminal
are served there as well.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	logging.Init()
	defer logging.Close()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The local database always holds the audit log, and the submissions
	// too with the sqlite store backend.
	if err := database.Init(); err != nil {
		return fmt.Errorf("database init: %w", err)
	}
	defer database.Close()

	auditor := audit.NewAuditor(database.DB, config.Cfg.AuditRetentionDays)
	audit.InitGlobal(auditor)
	defer audit.InitGlobal(nil)

	s, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	gallery := store.NewCache(s)
	if err := gallery.Refresh(sigCtx); err != nil {
		log.Printf("WARNING: initial gallery fetch: %v", err)
	}
	if err := gallery.Start(config.Cfg.GalleryRefresh); err != nil {
		return err
	}
	defer gallery.Stop()

	registry := sessions.NewRegistry(config.Duration(config.Cfg.InactivityTimeout, defaultIdleTimeout))
	if err := registry.StartReaper(reaperSpec); err != nil {
		return err
	}
	defer registry.StopReaper()

	hostKey, err := sshkeys.LoadOrCreateHostKey(config.Cfg.HostKeyPath)
	if err != nil {
		return err
	}

	launcher, err := newLauncher(gallery)
	if err != nil {
		return err
	}
	log.Printf("Relay backend %s@%s, sandbox image %s, relay timeout %s",
		config.Cfg.BackendUser, config.Cfg.BackendAddr, launcher.Image, launcher.RelayTimeout)

	// The sandbox runs on the backend, so a missing local daemon is only
	// reported, never fatal.
	imageCheck, err := sandbox.NewImageChecker(sigCtx, config.Cfg.SandboxImage)
	if err != nil {
		log.Printf("WARNING: image preflight disabled: %v", err)
	} else {
		defer imageCheck.Close()
		if err := imageCheck.Check(sigCtx); err != nil {
			log.Printf("WARNING: %v", err)
		}
		handlers.ImageCheck = imageCheck
	}

	guard, err := sshserver.NewGuard(sshserver.GuardConfig{
		AllowList:    config.Cfg.AllowedIPs,
		MaxPerMinute: config.Cfg.MaxConnsPerMinute,
	})
	if err != nil {
		return err
	}
	housekeeping := cron.New()
	housekeeping.AddFunc(reaperSpec, func() { guard.Prune() })
	housekeeping.AddFunc(auditPurgeSpec, func() { auditor.Purge() })
	housekeeping.Start()
	defer housekeeping.Stop()

	handlers.Registry = registry
	handlers.Gallery = gallery
	handlers.Launcher = launcher

	var admin *http.Server
	if config.Cfg.AdminAddr != "" {
		admin = &http.Server{
			Addr:    config.Cfg.AdminAddr,
			Handler: adminRouter(),
		}
		go func() {
			log.Printf("Admin API starting on %s", config.Cfg.AdminAddr)
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Admin API error: %v", err)
			}
		}()
	}

	srv := sshserver.New(hostKey, registry, launcher.Start)
	srv.Guard = guard
	log.Printf("SSH server starting on %s", config.Cfg.SSHAddr)
	serveErr := srv.ListenAndServe(sigCtx, config.Cfg.SSHAddr)
	if serveErr != nil {
		log.Printf("SSH server error: %v", serveErr)
	}
	log.Println("Shutting down...")

	srv.Close()
	registry.CloseAll()

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin shutdown error: %v", err)
		}
	}
	log.Println("Server stopped")
	return serveErr
}

func adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", handlers.HealthCheck)
	r.Get("/terminal", handlers.TerminalWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sessions", handlers.ListSessions)
		r.Delete("/sessions/{sessionId}", handlers.CloseSession)

		r.Get("/logs", handlers.GetServerLogs)
		r.Delete("/logs", handlers.ClearServerLogs)

		r.Get("/submissions", handlers.ListSubmissions)
		r.Post("/submissions/{id}/approve", handlers.ApproveSubmission)

		r.Get("/audit", handlers.GetAuditLog)
	})
	return r
}
