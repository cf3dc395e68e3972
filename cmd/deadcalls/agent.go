package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arxeiss/deadcalls/analysis"
	"github.com/arxeiss/deadcalls/config"
	"github.com/arxeiss/deadcalls/engine"
	"github.com/arxeiss/deadcalls/locator"
	"github.com/arxeiss/deadcalls/publish"
	"github.com/arxeiss/deadcalls/reconcile"
	"github.com/arxeiss/deadcalls/scheduler"
)

func (a *app) agentCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Reconcile an invocation stream continuously and publish the results",
		Long: "Keep the inventory of the configured roots up to date and publish it together with the " +
			"invocations read from --input. The agent stops when the input ends or on interrupt, " +
			"publishing once more on the way out.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			log := a.logger(zapcore.InfoLevel)
			defer func() { _ = log.Sync() }()

			in := a.stdin
			if input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return fmt.Errorf("failed to open input: %w", err)
				}
				defer f.Close()
				in = f
			}
			return runAgent(cmd.Context(), cfg, in, log)
		},
	}
	fs := cmd.Flags()
	addScanFlags(fs)
	fs.StringVarP(&input, "input", "i", "-", "invocation log to follow, - reads stdin")
	fs.String("output-dir", "deadcalls-out", "directory publications are written to")
	fs.Duration("rescan-interval", 10*time.Minute, "time between rescans")
	fs.Duration("publish-interval", time.Minute, "time between publish attempts")
	fs.Duration("retry-interval", 15*time.Second, "time before retrying a failed publish")
	fs.Duration("shutdown-timeout", 10*time.Second, "bound of the final publish attempt")
	fs.Bool("watch", false, "rescan shortly after artifacts under the roots change")
	fs.Duration("watch-debounce", 2*time.Second, "quiet period before a watch triggered rescan")
	fs.String("app-name", "", "application name stamped on publications")
	fs.String("app-version", "", "application version stamped on publications")
	fs.String("environment", "", "environment stamped on publications")
	return cmd
}

// runAgent scans once, then reconciles in until it ends or ctx is done.
func runAgent(ctx context.Context, cfg *config.Config, in io.Reader, log *zap.Logger) error {
	eng, err := engine.New(engine.Config{
		Roots:   cfg.Roots,
		Locator: locator.New(log, cfg.Excludes...),
		Builder: newBuilder(cfg, log),
	}, log)
	if err != nil {
		return err
	}
	sched, err := scheduler.New(eng, publish.NewFilePublisher(cfg.OutputDir, log), scheduler.Config{
		RescanInterval:  cfg.RescanInterval,
		PublishInterval: cfg.PublishInterval,
		RetryInterval:   cfg.RetryInterval,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Watch:           cfg.Watch,
		WatchRoots:      cfg.Roots,
		WatchExcludes:   cfg.Excludes,
		WatchDebounce:   cfg.WatchDebounce,
		Metadata:        metadata(cfg),
	}, log)
	if err != nil {
		return err
	}

	if _, err := eng.Rescan(ctx); err != nil {
		log.Warn("initial scan failed, invocations are buffered until a scan succeeds", zap.Error(err))
	} else if _, err := sched.PublishNow(ctx); err != nil {
		log.Warn("initial publish failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		err := analysis.ReadInvocations(in, func(rec reconcile.InvocationRecord, stamped bool) error {
			if !stamped {
				rec.InvokedAtMillis = time.Now().UnixMilli()
			}
			if err := eng.Register(rec); err != nil {
				log.Warn("invocation rejected", zap.String("signature", rec.RawSignature), zap.Error(err))
			}
			return nil
		})
		if err != nil {
			log.Error("invocation stream failed", zap.Error(err))
			return
		}
		log.Info("invocation stream closed")
	}()

	log.Info("agent started",
		zap.String("run", eng.RunInstanceID()),
		zap.Strings("roots", cfg.Roots),
		zap.String("output", cfg.OutputDir))
	return sched.Run(ctx)
}
