package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"orgmap/api/internal/app"
	"orgmap/api/internal/config"
	"orgmap/api/internal/kv"
	"orgmap/api/internal/metrics"
	"orgmap/api/internal/overlay"
	"orgmap/api/internal/pipeline"
	"orgmap/api/internal/search"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	var backend kv.Store
	switch cfg.KVBackend {
	case "postgres":
		log.Printf("Using PostgreSQL for overlay storage")
		store, err := kv.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		backend = store
	default:
		log.Printf("Using Redis for overlay storage")
		store, err := kv.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		backend = store
	}
	defer backend.Close()

	loader := pipeline.NewLoader(cfg.DataDir)
	if strings.TrimSpace(cfg.MinioBucket) != "" {
		objects, err := minio.New(cfg.MinioEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
			Secure: cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
		log.Printf("Loading pipeline artifacts from bucket %s", cfg.MinioBucket)
		loader = loader.WithObjectStore(objects, cfg.MinioBucket)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewLocal())

	m := metrics.New()
	overlays := overlay.NewStore(backend, cfg.PollInterval, m)
	service := app.NewService(cfg.Accounts, backend, overlays, loader, searchService, m)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, m.Handler())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("orgmap API listening on %s (accounts: %s)", cfg.Addr, strings.Join(cfg.Accounts, ", "))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
