package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/draup/onboarding-pipeline/internal/config"
	"github.com/draup/onboarding-pipeline/internal/db"
	"github.com/draup/onboarding-pipeline/internal/reaper"
	httpApi "github.com/draup/onboarding-pipeline/internal/api"
	"github.com/draup/onboarding-pipeline/pkg/activities"
	"github.com/draup/onboarding-pipeline/pkg/docresolve"
	"github.com/draup/onboarding-pipeline/pkg/downstream"
	"github.com/draup/onboarding-pipeline/pkg/execution"
	"github.com/draup/onboarding-pipeline/pkg/statusstore"
	"github.com/draup/onboarding-pipeline/pkg/taxonomy"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "onboarding-pipeline",
	Short: "Self-service role onboarding pipeline",
	Long: `onboarding-pipeline orchestrates the fixed create-role / link-job-description /
run-ai-assessment workflow against the downstream role processing service.

Run it as a full server (durable engine + embedded worker pool + HTTP API),
or as an api-only process for horizontal scaling of the HTTP surface
separate from workers.`,
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server with an embedded worker pool",
	Run: func(cmd *cobra.Command, args []string) {
		runServer(true)
	},
}

var apiServerCmd = &cobra.Command{
	Use:   "api-server",
	Short: "Start the API server without embedded workers",
	Run: func(cmd *cobra.Command, args []string) {
		runServer(false)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(apiServerCmd)
}

func runServer(withWorkers bool) {
	cfg := config.Load()
	db.Connect(cfg)

	downstreamClient := downstream.New(downstream.Config{
		BaseURL:        cfg.DownstreamBaseURL,
		AuthToken:      cfg.DownstreamAuthToken,
		TimeoutSeconds: cfg.DownstreamTimeoutSeconds,
	})
	acts := activities.New(downstreamClient)

	resolver := docresolve.New(docresolve.Config{
		BaseURL:        cfg.DocListingBaseURL,
		AuthToken:      cfg.DocListingAuthToken,
		TimeoutSeconds: cfg.DocListingTimeoutSeconds,
	})
	taxClient := taxonomy.New(taxonomy.Config{
		BaseURL:        cfg.TaxonomyBaseURL,
		AuthToken:      cfg.TaxonomyAuthToken,
		TimeoutSeconds: cfg.TaxonomyTimeoutSeconds,
	})

	statusStore := statusstore.New(statusstore.Config{
		Host:       cfg.RedisHost,
		Port:       cfg.RedisPort,
		Password:   cfg.RedisPassword,
		TTLSeconds: cfg.RedisTTLSeconds,
	})
	defer statusStore.Close()

	workerID := generateWorkerID()
	engine := execution.NewDurableEngine(db.DB, workerID, 7200)
	// Per spec §4.4, a fallback mode executes activities synchronously
	// in-process whenever the durable engine is unreachable. It carries no
	// retry and no durability; it lets /push, /push-batch and /retry-failed
	// keep serving while Postgres is down, and /status also looks up runs
	// held in it.
	inlineEngine := execution.NewInlineEngine(acts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if withWorkers {
		hostname, _ := os.Hostname()
		workerCfg := execution.DefaultWorkerConfig(workerID, hostname)
		workerCfg.MaxConcurrentActivities = cfg.WorkerConcurrency
		if cfg.ClaimInterval > 0 {
			workerCfg.ClaimInterval = cfg.ClaimInterval
		}
		if cfg.HeartbeatInterval > 0 {
			workerCfg.HeartbeatInterval = cfg.HeartbeatInterval
		}
		if cfg.RecoveryInterval > 0 {
			workerCfg.RecoveryInterval = cfg.RecoveryInterval
		}
		if cfg.OrphanTimeout > 0 {
			workerCfg.OrphanTimeout = cfg.OrphanTimeout
		}

		pool := execution.NewWorkerPool(engine, acts, statusStore, workerCfg)
		go func() {
			if err := pool.Start(ctx); err != nil {
				log.Printf("worker pool exited: %v", err)
			}
		}()

		r, err := reaper.New(engine, cfg.ReaperInterval, cfg.OrphanTimeout)
		if err != nil {
			log.Fatalf("failed to schedule reaper: %v", err)
		}
		r.Start(ctx)
	} else {
		log.Printf("starting api-server only (no embedded worker pool)")
	}

	server := httpApi.NewServer(engine, inlineEngine, statusStore, resolver, taxClient)
	mux := http.NewServeMux()
	mux.Handle("/", server.Router())
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("onboarding-pipeline listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	} else {
		log.Println("server exited gracefully")
	}
}

func generateWorkerID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("worker-%d", time.Now().Unix())
	}
	return "worker-" + hex.EncodeToString(b)
}
