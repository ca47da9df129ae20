package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"warren/config"
	"warren/internal/alloc"
	"warren/internal/api"
	"warren/internal/auth"
	"warren/internal/batch"
	"warren/internal/db"
	"warren/internal/health"
	"warren/internal/logs"
	"warren/internal/middleware"
	"warren/internal/models"
	"warren/internal/provision"
	"warren/internal/registry"
	"warren/internal/repo"
	"warren/internal/system"
	"warren/internal/vpn/wireguard"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	Svc        *provision.Service
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	/* 1) Логи */
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	/* 2) DB (опционально; пустой driver — чистый in-memory) */
	if drv := a.cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, a.cfg.Database.DSN)
		if err != nil {
			log.Fatalf("db open failed: %v", err)
		}
		a.db = d

		if err := a.db.AutoMigrate(
			&models.Tunnel{},
			&models.Peer{},
			&models.BatchRun{},
			&models.APIToken{},
		); err != nil {
			log.Fatalf("db migrate failed: %v", err)
		}
	}

	/* 3) Ядро: registry + пулы + ключи + активация */
	reg := registry.New(a.db, a.cfg.WireGuard.ReservedNames)
	if err := reg.Load(context.Background()); err != nil {
		log.Fatalf("registry load failed: %v", err)
	}

	pairs, err := alloc.BuildSubnetPairs(
		a.cfg.WireGuard.SubnetV4Base,
		a.cfg.WireGuard.SubnetV6Base,
		a.cfg.WireGuard.SubnetCount,
	)
	if err != nil {
		log.Fatalf("subnet pool build failed: %v", err)
	}
	al := alloc.New(reg, a.cfg.WireGuard.PortMin, a.cfg.WireGuard.PortMax, pairs)

	var act system.Activator = system.NoopActivator{}
	var deps system.DepChecker = system.NoopChecker{}
	if a.cfg.WireGuard.Apply {
		act = system.NewWGQuick(a.cfg.WireGuard.ConfDir)
		deps = system.NewLookPathChecker()
	}

	a.Svc = provision.NewService(reg, al, wireguard.NewProvider(), act, deps, a.cfg)
	if err := a.Svc.CheckDependencies(context.Background()); err != nil {
		// не фатально на старте: активация всё равно перепроверит
		logs.Logger.Warnf("dependency check: %v", err)
	}

	runs := repo.NewBatchRunStore(a.db)
	bp := batch.New(a.Svc, runs, a.cfg.Batch.MaxRows, a.cfg.Batch.RowDelay)

	/* 4) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)

	/* 5) Health */
	if a.db != nil {
		health.RegisterRoutesWithDB(a.Router, a.db) // /healthz, /readyz
	} else {
		health.RegisterRoutes(a.Router) // только /healthz
	}

	/* 6) API: токены из БД, shared secret как fallback */
	var tokens *auth.Service
	var verifier api.TokenVerifier
	if a.db != nil {
		tokens = auth.New(repo.NewTokenStore(a.db))
		verifier = tokens
	}
	h := api.NewHandler(a.Svc, bp, runs, tokens)
	h.Register(a.Router, api.APIKeyAuth(verifier, a.cfg.API.SharedSecret))

	/* (необязательно) вывести известные маршруты в лог при старте */
	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logs.Logger.Infof("shutdown signal: %s", s)
		a.cancel()
	}()

	// Жёсткие таймауты — это важно для production
	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second, // batch с паузами между строками
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Logger.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	return nil
}
