// Command sweeper runs the Cleanup Sweeper (C9, spec.md §4.7) on a
// schedule via github.com/robfig/cron/v3, expiring completed/failed jobs
// past their retention window.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimbusbuild/orchestrator/internal/archive"
	"github.com/nimbusbuild/orchestrator/internal/config"
	"github.com/nimbusbuild/orchestrator/internal/store"
	"github.com/nimbusbuild/orchestrator/internal/sweep"
	"github.com/robfig/cron/v3"
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

	workers := sweep.NewCloudflareWorkerDeleter(cfg.EdgeWorkerDeleteURL, cfg.CloudflareAPIToken, cfg.CloudflareAccountID)
	sweeper := sweep.New(jobStore, logArchive, workers, cfg.SweepBatchSize)

	c := cron.New()
	spec := "@hourly"
	if cfg.SweepInterval > 0 {
		spec = "@every " + cfg.SweepInterval.String()
	}
	if _, err := c.AddFunc(spec, func() { sweeper.Run(ctx) }); err != nil {
		log.Fatalf("schedule sweep: %v", err)
	}

	log.Printf("component=sweeper schedule=%s batch_size=%d", spec, cfg.SweepBatchSize)
	c.Start()
	defer c.Stop()

	<-ctx.Done()
	log.Printf("component=sweeper shutting down")
}
