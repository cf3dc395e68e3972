package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/arxeiss/deadcalls/locator"
	"github.com/arxeiss/deadcalls/publish"
)

func (a *app) scanCmd() *cobra.Command {
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Print the method inventory of the configured roots",
		Long:  "Scan the configured roots and print every inventory signature, sorted. The fingerprint goes to stderr.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			log := a.logger(zapcore.WarnLevel)
			defer func() { _ = log.Sync() }()

			snap, err := newBuilder(cfg, log).Scan(cmd.Context(), locator.New(log, cfg.Excludes...), cfg.Roots)
			if err != nil {
				return fmt.Errorf("failed to scan codebase: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonFlag {
				meta := metadata(cfg)
				meta.PublishedAt = time.Now().UTC()
				enc := json.NewEncoder(out)
				enc.SetIndent("", "\t")
				return enc.Encode(publish.NewInventory(meta, snap))
			}
			for _, sig := range snap.Inventory.Signatures() {
				fmt.Fprintln(out, sig)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "fingerprint: %s\n", snap.Fingerprint)
			return nil
		},
	}
	addScanFlags(cmd.Flags())
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "output the inventory as JSON")
	return cmd
}
