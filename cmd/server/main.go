// Command server runs the HTTP Surface (C8): it accepts POST /api/jobs,
// publishes a build-queue message per job, and streams progress back to
// the client over SSE by subscribing to the Redis channel the worker
// process (cmd/worker) publishes onto (SPEC_FULL.md §2).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimbusbuild/orchestrator/internal/archive"
	"github.com/nimbusbuild/orchestrator/internal/config"
	"github.com/nimbusbuild/orchestrator/internal/httpapi"
	"github.com/nimbusbuild/orchestrator/internal/queue"
	"github.com/nimbusbuild/orchestrator/internal/store"
)

func main() {
	cfg := config.Load()

	gdb, err := store.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	jobStore, err := store.NewGormStore(gdb)
	if err != nil {
		log.Fatalf("migrate store: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var logArchive archive.Archive
	if cfg.GCSBucket != "" {
		ga, err := archive.NewGCSArchive(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
		if err != nil {
			log.Fatalf("connect gcs archive: %v", err)
		}
		logArchive = ga
	} else {
		logArchive = archive.NewMemoryArchive()
	}

	pub, err := queue.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	defer pub.Close()

	events := queue.NewEventBus(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer events.Close()

	router := httpapi.NewRouter(jobStore, logArchive, pub, events, cfg)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// SSE connections are long-lived by design; no write timeout.
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("component=server shutdown err=%v", err)
		}
	}()

	log.Printf("component=server listening addr=%s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("component=server err=%v", err)
	}
}
