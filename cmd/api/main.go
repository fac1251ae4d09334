package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"warrantly.org/internal/config"
	"warrantly.org/internal/httpapi"
	"warrantly.org/internal/notify"
	"warrantly.org/internal/obs"
	"warrantly.org/internal/staffauth"
	"warrantly.org/internal/store/pg"
	"warrantly.org/internal/token"
	"warrantly.org/internal/warranty"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Store: Postgres when a DSN is configured, in-memory otherwise.
	var store warranty.Store
	probe := httpapi.ReadyProbe{}
	var pgStore *pg.Store
	if cfg.PostgresDSN != "" {
		pgStore, err = pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		probe.DB = pgStore.DB()
	} else {
		log.Print("no DSN configured, using in-memory store")
		store = warranty.NewInMemory()
	}

	// Notifier: redis stream when configured, stdout lines otherwise.
	var notifier warranty.Notifier = notify.Stdout{}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		notifier = notify.NewRedisStream(client, cfg.NotifyStream)
	}

	engine := warranty.NewEngine(store, warranty.WithNotifier(notifier))

	issuer, err := token.NewIssuer(cfg.TokenSecret)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}
	staff, err := staffauth.NewService(cfg.StaffAuthSecret)
	if err != nil {
		log.Fatalf("staff auth: %v", err)
	}

	api := httpapi.New(probe, version, engine, issuer, staff, cfg.TokenTTL,
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithPublicRateLimit(cfg.PublicRateBurst, cfg.PublicRatePerSec),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting warrantly-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
