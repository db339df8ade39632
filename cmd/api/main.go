package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"healthpal.org/internal/config"
	"healthpal.org/internal/guard"
	"healthpal.org/internal/httpapi"
	"healthpal.org/internal/identity"
	"healthpal.org/internal/ledger"
	"healthpal.org/internal/obs"
	"healthpal.org/internal/report"
	"healthpal.org/internal/stream"
	"healthpal.org/internal/token"
)

var version = "0.3.1"

func main() {
	configPath := flag.String("config", os.Getenv("HP_CONFIG"), "path to YAML config (optional)")
	flag.Parse()

	obs.Init()
	cfg := config.MustLoad(*configPath)

	if cfg.Tokens.Secret == "" {
		log.Fatal("HP_AUTH_SECRET is required")
	}

	ctx := context.Background()

	// Revocation set: Redis when configured, process-local otherwise.
	var revocations token.RevocationStore
	if cfg.Redis.Addr != "" {
		redisStore, err := token.OpenRedisRevocationStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		defer redisStore.Close()
		revocations = redisStore
	} else {
		revocations = token.NewMemoryRevocationStore()
	}

	tokens, err := token.NewService(cfg.Tokens.Secret, revocations,
		token.WithAccessTTL(cfg.Tokens.AccessTTL),
		token.WithRefreshTTL(cfg.Tokens.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	// Stores: Postgres when a DSN is configured, in-memory for local dev.
	var (
		db            *sql.DB
		identityStore identity.Store
		ledgerStore   ledger.Service
	)
	if cfg.DB.DSN != "" {
		pg, err := ledger.Open(cfg.DB.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pg.Close()
		db = pg.DB()
		identityStore = identity.NewPGStore(db)
		ledgerStore = pg
	} else {
		identityStore = identity.NewMemoryStore()
		ledgerStore = ledger.NewInMemory()
		log.Print("no HP_PG_DSN configured, using in-memory stores")
	}

	identitySvc := identity.NewService(identityStore, tokens)
	authGuard := guard.New(tokens, identityStore)
	donations := stream.New()

	api := httpapi.New(httpapi.Deps{
		Identity:   identitySvc,
		Guard:      authGuard,
		Ledger:     ledgerStore,
		Reports:    report.New(ledgerStore),
		Stream:     donations,
		Probe:      httpapi.ReadyProbe{DB: db},
		Version:    version,
		RateBurst:  cfg.HTTPServer.RateBurst,
		RatePerSec: cfg.HTTPServer.RatePerSec,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPServer.Address,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTPServer.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTPServer.ReadTimeout,
		WriteTimeout:      cfg.HTTPServer.WriteTimeout,
		IdleTimeout:       cfg.HTTPServer.IdleTimeout,
	}

	log.Printf("Starting healthpal-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
