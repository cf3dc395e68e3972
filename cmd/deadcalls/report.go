package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/arxeiss/deadcalls/analysis"
)

func (a *app) reportCmd() *cobra.Command {
	var (
		logs     []string
		jsonFlag bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print methods never invoked according to invocation logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			log := a.logger(zapcore.WarnLevel)
			defer func() { _ = log.Sync() }()

			runner := analysis.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg.Roots)
			runner.Builder = newBuilder(cfg, log)
			runner.LogsFlag = logs
			runner.ExcludesFlag = cfg.Excludes
			runner.DebugFlag = a.debug
			runner.JSONFlag = jsonFlag
			return runner.Run(cmd.Context())
		},
	}
	addScanFlags(cmd.Flags())
	cmd.Flags().StringArrayVar(&logs, "log", nil, "invocation log to reconcile, repeatable")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "output JSON")
	return cmd
}
