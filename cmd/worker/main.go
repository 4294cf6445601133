// Command worker is the build-pipeline worker process (SPEC_FULL.md §2):
// it consumes {job_id} messages off the RabbitMQ build queue and runs
// internal/pipeline.Pipeline.Run for each one, publishing every SSE event
// onto the per-job Redis channel the HTTP surface's SSE handler subscribes
// to. Adapted from the teacher's cmd/worker/main.go (same dispatcher/worker
// pool/Qos shape over amqp091-go), generalized from chat-reply generation
// to the build-and-deploy pipeline.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/nimbusbuild/orchestrator/internal/ai"
	"github.com/nimbusbuild/orchestrator/internal/archive"
	"github.com/nimbusbuild/orchestrator/internal/config"
	"github.com/nimbusbuild/orchestrator/internal/deploy"
	"github.com/nimbusbuild/orchestrator/internal/framework"
	"github.com/nimbusbuild/orchestrator/internal/llmclient"
	"github.com/nimbusbuild/orchestrator/internal/pipeline"
	"github.com/nimbusbuild/orchestrator/internal/queue"
	"github.com/nimbusbuild/orchestrator/internal/sandbox"
	"github.com/nimbusbuild/orchestrator/internal/store"
)

type jobMsg struct {
	JobID string `json:"job_id"`
}

// newProviderRegistry builds the ai.Registry with a factory per supported
// backend, so provider selection goes through the same lookup-by-name
// machinery the teacher's internal/ai.Registry provides rather than a
// hand-rolled switch.
func newProviderRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("openrouter", func(_ context.Context, model string) (ai.Provider, error) {
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	reg.Register("ollama", func(_ context.Context, model string) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	})
	return reg
}

func newProvider(cfg config.Config) ai.Provider {
	name := cfg.AIProvider
	if strings.TrimSpace(name) == "" {
		name = "openrouter"
	}
	provider, err := newProviderRegistry(cfg).Get(context.Background(), name, cfg.DefaultModel)
	if err != nil {
		log.Fatalf("unsupported AI_PROVIDER=%q: %v", cfg.AIProvider, err)
		return nil
	}
	return provider
}

func buildPipeline(cfg config.Config, gdb store.Store, ar archive.Archive, events *queue.EventBus) *pipeline.Pipeline {
	provider := newProvider(cfg)
	llm := llmclient.New(provider, cfg.DefaultModel, cfg.CostLookupDelay)

	sandboxDrv := sandbox.NewDriver(sandbox.NewContainerProvisioner(cfg.SandboxImage), sandbox.Config{
		InstallTimeout:       cfg.InstallTimeout,
		BuildTimeout:         cfg.BuildTimeout,
		NextBuildTimeout:     cfg.NextBuildTimeout,
		OpenNextBuildTimeout: cfg.OpenNextBuildTimeout,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		LogTailInterval:      cfg.LogTailInterval,
		MaxLogTailChars:      cfg.MaxLogTailChars,
		MaxLogTailLines:      cfg.MaxLogTailLines,
	})

	return &pipeline.Pipeline{
		Store:      gdb,
		Archive:    ar,
		LLM:        llm,
		Frameworks: framework.NewRegistry(),
		SandboxDrv: sandboxDrv,
		DeployDrv:  deploy.NewDriver(),
		Events:     events,
		Config: pipeline.Config{
			JobRetention:        cfg.JobRetention,
			CloudflareAPIToken:  cfg.CloudflareAPIToken,
			CloudflareAccountID: cfg.CloudflareAccountID,
		},
	}
}

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

	events := queue.NewEventBus(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer events.Close()

	pl := buildPipeline(cfg, jobStore, logArchive, events)

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	consumer, msgs, err := queue.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, concurrency)
	if err != nil {
		log.Fatalf("rabbit consumer: %v", err)
	}
	defer consumer.Close()

	log.Printf("component=worker queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m jobMsg
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Printf("component=worker worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := pl.Run(ctx, m.JobID); err != nil {
					log.Printf("component=worker worker=%d job_id=%s elapsed=%s err=%v", workerID, m.JobID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("component=worker worker=%d job_id=%s ack err=%v", workerID, m.JobID, err)
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("component=worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("component=worker delivery channel closed")
				time.Sleep(time.Second)
				continue
			}
			jobs <- d
		}
	}
}
