package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/creamcroissant/clashforge/internal/api"
	"github.com/creamcroissant/clashforge/internal/cache"
	"github.com/creamcroissant/clashforge/internal/job"
	"github.com/creamcroissant/clashforge/internal/pipeline"
	"github.com/creamcroissant/clashforge/internal/verify"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rerun the pipeline on a cron schedule and serve the results over HTTP",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchAddr, "addr", "", "override watch.addr")
	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "", "override watch.schedule")
	rootCmd.AddCommand(watchCmd)
}

var (
	watchAddr     string
	watchSchedule string
)

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if watchAddr != "" {
		cfg.Watch.Addr = watchAddr
	}
	if watchSchedule != "" {
		cfg.Watch.Schedule = watchSchedule
	}
	if err := job.ValidateSpec(cfg.Watch.Schedule); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	artifacts := cache.NewStore(cache.Options{Prefix: "artifacts"})
	w := wiring{registry: registry, artifacts: artifacts}
	if cfg.Verify.CacheTTL > 0 {
		w.results = verify.NewResultCache(cache.NewStore(cache.Options{DefaultTTL: cfg.Verify.CacheTTL}), cfg.Verify.CacheTTL)
	}
	p, err := buildPipeline(cfg, logger, w)
	if err != nil {
		return err
	}

	pipelineJob := job.NewPipelineJob(p, pipeline.StagesAll)
	scheduler := job.NewScheduler(logger, 0)
	entryID, err := scheduler.Register(cfg.Watch.Schedule, pipelineJob)
	if err != nil {
		return err
	}
	scheduler.Start()
	if cfg.Watch.RunOnStart {
		scheduler.Trigger(entryID)
	}

	router := api.NewRouter(logger, api.Deps{
		Artifacts: artifacts,
		Status:    func() any { return pipelineJob.Status() },
		Registry:  registry,
	}, cfg.Metrics)
	server := &http.Server{
		Addr:              cfg.Watch.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Watch.Addr, "schedule", cfg.Watch.Schedule, "next_run", scheduler.Next(entryID))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	stopCtx := scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Watch.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	select {
	case <-stopCtx.Done():
	case <-shutdownCtx.Done():
		logger.Warn("scheduled run still active at shutdown")
	}
	logger.Info("watch stopped", "runs", pipelineJob.Status().Runs)
	return runErr
}
