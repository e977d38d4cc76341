package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/media-harvester/pkg/config"
	"github.com/Sriram-PR/media-harvester/pkg/metadata"
)

const version = "1.0.0"

// flags shared by every command
type rootFlags struct {
	configFile   string
	logLevel     string
	language     string
	downloadRoot string
	stateDir     string
	reportDir    string
	reportFormat string
	monitorAddr  string
	workers      int
	sliceLen     int
	slices       []int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "media-harvester",
		Short:         "Bulk media acquisition and classification",
		Long:          `Downloads the media links of every article in a line-delimited JSON metadata file, classifies the files and reports one status per link.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.configFile, "config", "", "Path to YAML config file (default: ./config.yaml when present)")
	pf.StringVar(&f.logLevel, "loglevel", "info", "Log level (trace, debug, info, warn, error)")
	pf.StringVar(&f.language, "lang", "", "Language key (default: config value, else metadata file stem)")
	pf.StringVar(&f.downloadRoot, "download-root", "", "Override download_root")
	pf.StringVar(&f.stateDir, "state-dir", "", "Override state_dir")
	pf.StringVar(&f.reportDir, "report-dir", "", "Override report_dir")
	pf.StringVar(&f.reportFormat, "format", "", "Override report_format (csv, sqlite)")
	pf.StringVar(&f.monitorAddr, "monitor", "", "Serve progress on this address, e.g. localhost:8090")
	pf.IntVar(&f.workers, "workers", 0, "Override max_workers")
	pf.IntVar(&f.sliceLen, "slice-len", 0, "Override slice_len")
	pf.IntSliceVar(&f.slices, "slices", nil, "Only these slice indices, e.g. --slices 0,3")

	root.AddCommand(
		downloadCmd(f, "download", "Acquire every slice from scratch", false),
		downloadCmd(f, "resume", "Acquire only slices without a complete checkpoint", true),
		classifyCmd(f),
		statsCmd(f),
		runCmd(f),
		exceptionsCmd(f),
		validateCmd(f),
		&cobra.Command{
			Use:   "version",
			Short: "Show version info",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "media-harvester %s\n", version)
			},
		},
	)
	return root
}

func downloadCmd(f *rootFlags, use, short string, resume bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <metadata-file>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, f, args[0], func(ctx context.Context, a *app) error {
				return a.download(ctx, resume, f.slices, cmd.OutOrStdout())
			})
		},
	}
}

func classifyCmd(f *rootFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "classify <metadata-file>",
		Short: "Classify acquired slices into useful, filtered and corrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, f, args[0], func(ctx context.Context, a *app) error {
				st, err := a.classify(ctx, all, f.slices)
				if st != nil {
					printStats(cmd.OutOrStdout(), st)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Also re-run slices already classified")
	return cmd
}

func statsCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <metadata-file>",
		Short: "Write the per-link status report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, f, args[0], func(ctx context.Context, a *app) error {
				return a.stats(ctx, cmd.OutOrStdout())
			})
		},
	}
}

func runCmd(f *rootFlags) *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "run <metadata-file>",
		Short: "Download, classify each slice as it completes, then write the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, f, args[0], func(ctx context.Context, a *app) error {
				st, err := a.run(ctx, resume, f.slices, cmd.OutOrStdout())
				if st != nil {
					printStats(cmd.OutOrStdout(), st)
				}
				if ctx.Err() != nil {
					return err
				}
				if statsErr := a.stats(ctx, cmd.OutOrStdout()); statsErr != nil {
					return errors.Join(err, statsErr)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "Skip slices with a complete checkpoint")
	return cmd
}

func exceptionsCmd(f *rootFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "exceptions [metadata-file]",
		Short: "Count exception records and optionally compile them into one file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupLogger(f.logLevel, cmd.ErrOrStderr())
			cfg, err := loadConfig(f, log)
			if err != nil {
				return err
			}
			lang := cfg.Language
			if lang == "" && len(args) == 1 {
				lang = metadata.LanguageFromPath(args[0])
			}
			if lang == "" {
				return errors.New("language unknown: pass --lang or a metadata file")
			}
			if code := doExceptions(cfg.LanguageRoot(lang), out, logrus.NewEntry(log), cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				return fmt.Errorf("exceptions command failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write every exception record into this JSON file")
	return cmd
}

func validateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if code := doValidate(configPath(f), cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				return fmt.Errorf("configuration invalid")
			}
			return nil
		},
	}
}

// withApp sets up logging, configuration, signal handling and components, then runs fn.
func withApp(cmd *cobra.Command, f *rootFlags, metadataPath string, fn func(context.Context, *app) error) error {
	log := setupLogger(f.logLevel, cmd.ErrOrStderr())
	cfg, err := loadConfig(f, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, metadataPath, logrus.NewEntry(log))
	if err != nil {
		log.Errorf("Initialization failed: %v", err)
		return err
	}
	defer a.Close()
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	a.startBackground(bgCtx)

	err = fn(ctx, a)
	switch {
	case err == nil:
		log.Infof("%s completed successfully", cmd.Name())
	case errors.Is(err, context.Canceled):
		log.Warnf("%s cancelled: %v", cmd.Name(), err)
	default:
		log.Errorf("%s finished with error: %v", cmd.Name(), err)
	}
	return err
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
	}
	return log
}

func configPath(f *rootFlags) string {
	if f.configFile == "" && fileExists("config.yaml") {
		return "config.yaml"
	}
	return f.configFile
}

// loadConfig loads the config file, applies flag overrides and validates the result.
func loadConfig(f *rootFlags, log *logrus.Logger) (*config.AppConfig, error) {
	path := configPath(f)
	if path != "" {
		log.Infof("Loading configuration from %s", path)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, f)

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	log.Debugf("Config: Workers:%d, SliceLen:%d, MaxReqs:%d, MaxReqPerHost:%d, Attempts:%d, Timeout:%v",
		cfg.MaxWorkers, cfg.SliceLen, cfg.MaxRequests, cfg.MaxRequestsPerHost, cfg.MaxAttempts, cfg.FetchTimeout)
	return cfg, nil
}

func applyOverrides(cfg *config.AppConfig, f *rootFlags) {
	if f.language != "" {
		cfg.Language = f.language
	}
	if f.downloadRoot != "" {
		cfg.DownloadRoot = f.downloadRoot
	}
	if f.stateDir != "" {
		cfg.StateDir = f.stateDir
	}
	if f.reportDir != "" {
		cfg.ReportDir = f.reportDir
	}
	if f.reportFormat != "" {
		cfg.ReportFormat = f.reportFormat
	}
	if f.monitorAddr != "" {
		cfg.MonitorAddr = f.monitorAddr
	}
	if f.workers > 0 {
		cfg.MaxWorkers = f.workers
	}
	if f.sliceLen > 0 {
		cfg.SliceLen = f.sliceLen
	}
}
