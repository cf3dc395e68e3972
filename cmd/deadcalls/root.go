package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arxeiss/deadcalls/classfile"
	"github.com/arxeiss/deadcalls/config"
	"github.com/arxeiss/deadcalls/inventory"
	"github.com/arxeiss/deadcalls/javasrc"
	"github.com/arxeiss/deadcalls/publish"
)

// app carries what every command shares.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	debug      bool
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "deadcalls",
		Short:         "Find methods of a JVM codebase that are never invoked",
		Long:          usage(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	// flags double as configuration keys, which use underscores
	root.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
	})
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "configuration file (default: ./deadcalls.yaml when present)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug output")

	root.AddCommand(a.scanCmd(), a.reportCmd(), a.agentCmd())
	return root
}

func usage() string {
	// Extract the content of the /* ... */ comment in doc.go.
	_, after, _ := strings.Cut(doc, "/*\n")
	text, _, _ := strings.Cut(after, "*/")
	return strings.TrimSpace(text)
}

func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// logger writes human readable logs to stderr. --debug lowers the level to debug.
func (a *app) logger(level zapcore.Level) *zap.Logger {
	if a.debug {
		level = zapcore.DebugLevel
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(zapcore.AddSync(a.stderr)), level)
	return zap.New(core)
}

func addScanFlags(fs *pflag.FlagSet) {
	fs.StringSlice("roots", nil, "code locations: archives, class or source directories, or glob patterns")
	fs.StringSlice("packages", nil, "keep only types in these packages and below")
	fs.StringSlice("exclude-packages", nil, "drop types in these packages and below")
	fs.StringSlice("excludes", nil, "doublestar patterns of files skipped inside directory roots")
	fs.String("method-visibility", "public", "least visible method kept: public, protected, package or private")
	fs.StringArray("synthetic-ignore", nil, "extra regular expressions of generated signatures to ignore")
	fs.Bool("sources", false, "also read .java sources")
	fs.Int("scan-workers", 0, "targets scanned at once (default: number of CPUs)")
}

func newBuilder(cfg *config.Config, log *zap.Logger) *inventory.Builder {
	sources := inventory.Sources{classfile.New(log)}
	if cfg.Sources {
		sources = append(sources, javasrc.New(log))
	}
	b := inventory.NewBuilder(sources, log)
	b.Normalizer = cfg.Normalizer()
	b.Packages = cfg.Packages
	b.ExcludePackages = cfg.ExcludePackages
	b.Visibility = cfg.Visibility()
	b.Excludes = cfg.Excludes
	if cfg.ScanWorkers > 0 {
		b.Workers = cfg.ScanWorkers
	}
	return b
}

func metadata(cfg *config.Config) publish.Metadata {
	return publish.Metadata{
		AppName:     cfg.AppName,
		AppVersion:  cfg.AppVersion,
		Environment: cfg.Environment,
	}
}
