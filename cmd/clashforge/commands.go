package main

import (
	"errors"
	"fmt"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/creamcroissant/clashforge/internal/pipeline"
)

func init() {
	var (
		output       string
		concurrency  int
		verifiedOnly bool
		quiet        bool
	)
	applyOverrides := func() {
		if output != "" {
			cfg.Output.ConfigPath = output
		}
		if concurrency > 0 {
			cfg.Verify.Concurrency = concurrency
		}
		if verifiedOnly {
			cfg.Output.VerifiedOnly = true
		}
	}

	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Collect, verify, write the Clash config and the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyOverrides()
			return runOnce(cmd, pipeline.StagesAll, quiet)
		},
	}
	runCmd.Flags().StringVarP(&output, "output", "o", "", "override output.config_path")
	runCmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "override verify.concurrency")
	runCmd.Flags().BoolVar(&verifiedOnly, "verified-only", false, "write only verified proxies into the config")
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print per-node progress")
	rootCmd.AddCommand(runCmd)

	var convertCmd = &cobra.Command{
		Use:   "convert",
		Short: "Collect sources and write the Clash config without verifying",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyOverrides()
			return runOnce(cmd, pipeline.StagesConvert, true)
		},
	}
	convertCmd.Flags().StringVarP(&output, "output", "o", "", "override output.config_path")
	rootCmd.AddCommand(convertCmd)

	var verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Collect sources, verify every node and write the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyOverrides()
			cfg.Verify.Enabled = true
			return runOnce(cmd, pipeline.StagesVerify, quiet)
		},
	}
	verifyCmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "override verify.concurrency")
	verifyCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print per-node progress")
	rootCmd.AddCommand(verifyCmd)

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clashforge %s (commit %s, built %s, %s %s/%s)\n",
				Version, Commit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
	rootCmd.AddCommand(versionCmd)
}

var errNoReachable = errors.New("no node passed verification")

func runOnce(cmd *cobra.Command, stages pipeline.Stages, quiet bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := wiring{}
	if !quiet {
		w.onResult = progressPrinter(cmd.ErrOrStderr())
	}
	p, err := buildPipeline(cfg, logger, w)
	if err != nil {
		return err
	}

	summary, err := p.Run(ctx, stages)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("run interrupted", "error", err)
		}
		return err
	}
	renderSummary(cmd.OutOrStdout(), summary)
	if summary.Report != nil && summary.Report.Succeeded == 0 && summary.Report.Total > 0 {
		return errNoReachable
	}
	return nil
}
