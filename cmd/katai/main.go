package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/katai/internal/config"
	"github.com/vango-dev/katai/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	logLevel   string
	jsonErrors bool

	cfg *config.Config
}

func main() {
	rootCmd, opts := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		printError(rootCmd, opts, err)
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, *options) {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "katai",
		Short: "Reactive path-addressable state stores",
		Long: `katai hosts named in-memory state stores with path subscriptions
and write-through persistence to a cache backend.

  • serve      run the inspection API and change stream
  • get        read a store's persisted state from the cache backend
  • cache      inspect or delete raw cache entries`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = strings.ToLower(opts.logLevel)
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			opts.cfg = cfg
			slog.SetDefault(newLogger(cfg.Log, cmd.ErrOrStderr()))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default katai.yaml, or $KATAI_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonErrors, "json-errors", false, "Print errors as JSON")

	rootCmd.AddCommand(
		serveCmd(opts),
		getCmd(opts),
		cacheCmd(opts),
		versionCmd(),
	)
	return rootCmd, opts
}

func printError(cmd *cobra.Command, opts *options, err error) {
	e := errors.Classify(err)
	if opts.jsonErrors {
		fmt.Fprintln(cmd.ErrOrStderr(), e.FormatJSON())
		return
	}
	errors.Fprint(cmd.ErrOrStderr(), e)
}

// success prints a success message.
func success(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}
