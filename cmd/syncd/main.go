// cmd/syncd/main.go
//
// caresyncd – member sync service entry point.
//
// Startup order
// -------------
//
//  1. Bootstrap console logger, then conf/.env + conf/global.yaml +
//     CARESYNC_* overlays (vault: references resolved in place).
//
//  2. Daily rotating file logger (tees to console when running in a TTY).
//
//  3. Shared roster DB: connect, ensure schema, log active-campus count.
//
//  4. Credential cipher (configured key, KV key, or generated+degraded).
//
//  5. Tenant cache, engine runner, scheduler, GeoIP annotator.
//
//  6. Chi router behind the hardened http.Server, ForceHTTPS when
//     configured.
//
//  7. Everything runs under one errgroup until SIGINT/SIGTERM; shutdown
//     drains the listener and stops the scheduler.
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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/campuscare/caresync/internal/config"
	"github.com/campuscare/caresync/internal/database"
	"github.com/campuscare/caresync/internal/engine"
	"github.com/campuscare/caresync/internal/httpapi"
	"github.com/campuscare/caresync/internal/logger"
	"github.com/campuscare/caresync/internal/middleware"
	"github.com/campuscare/caresync/internal/requestinfo"
	"github.com/campuscare/caresync/internal/scheduler"
	"github.com/campuscare/caresync/internal/server"
	"github.com/campuscare/caresync/internal/tenant"
	"github.com/campuscare/caresync/internal/vault"
	"github.com/campuscare/caresync/internal/webhook"
)

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	// Bootstrap console logger so config loading has somewhere to talk.
	zap.ReplaceGlobals(zap.Must(zap.NewDevelopment()))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logOut, err := logger.New(cfg.Paths.Root, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer func() { _ = logOut.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//
	// ── 1.  Roster DB ───────────────────────────────────────────────────
	//
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		logOut.Fatalw("connect roster DB", "error", err)
	}
	defer db.Close()

	if err := database.EnsureSchema(ctx, db); err != nil {
		logOut.Fatalw("ensure schema", "error", err)
	}

	var active int
	_ = db.GetContext(ctx, &active, `
	    SELECT COUNT(*) FROM campus
	    WHERE suspended_at IS NULL AND deleted_at IS NULL`)
	logOut.Infow("roster DB online", "active_campuses", active)

	//
	// ── 2.  Credential cipher ───────────────────────────────────────────
	//
	cipher, err := vault.New(ctx, cfg.Credentials.Key, cfg.Credentials.KVPath, cfg.Credentials.KVField)
	if err != nil {
		logOut.Fatalw("credential cipher", "error", err)
	}

	if err := requestinfo.InitGeo(cfg.GeoIP.DBPath); err != nil {
		logOut.Warnw("geoip lookup disabled", "error", err)
	}

	//
	// ── 3.  Tenant cache, runner, scheduler ─────────────────────────────
	//
	cache := tenant.New(db, tenant.IdleTTL, tenant.MaxEntries)
	defer cache.Stop()

	runner := &engine.Runner{
		DB:           db,
		Vault:        cipher,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		PageSize:     cfg.Sync.PageSize,
		FetchTimeout: cfg.Sync.FetchTimeout,
		LeaseTTL:     cfg.Sync.LeaseTTL,
	}
	sched := scheduler.New(db, runner, cfg.Sync.Workers)

	//
	// ── 4.  HTTP surface ────────────────────────────────────────────────
	//
	api := &httpapi.API{
		DB:            db,
		Vault:         cipher,
		Tenants:       cache,
		Runner:        runner,
		Webhooks:      &webhook.Handler{DB: db, Tenants: cache},
		Kick:          sched.Kick,
		HTTPClient:    runner.HTTPClient,
		PageSize:      cfg.Sync.PageSize,
		DefaultRegion: cfg.Sync.DefaultRegion,
	}

	var handler http.Handler = api.Router()
	if cfg.HTTP.ForceHTTPS {
		handler = middleware.ForceHTTPS(handler)
	}
	srv := server.New(cfg.HTTP.ListenAddr, handler)

	//
	// ── 5.  Run until signalled ─────────────────────────────────────────
	//
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sched.Run(gctx) })

	g.Go(func() error {
		if err := config.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logOut.Infow("listening", "addr", cfg.HTTP.ListenAddr, "force_https", cfg.HTTP.ForceHTTPS)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logOut.Fatalw("shutdown with error", "error", err)
	}
	logOut.Infow("shutdown complete")
}
