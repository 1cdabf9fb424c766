package main

import (
	"errors"
	"log"
	"os"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	cfgFile string
	noColor bool
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fsmonitor",
		Short: "Watch directory trees for changes",
		Long: `fsmonitor multiplexes interest in many paths onto a single native change
subscription. Paths can be watched locally, or shared with remote clients
through the server.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yml", "specify configuration file for service.")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "print without colours")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log what the engine does")

	rootCmd.AddCommand(
		watchCommand(),
		serveCommand(),
		tailCommand(),
		userCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				cmd.Printf("fsmonitor version %s\n", version)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration file. A missing default file means
// defaults, a missing file named on the command line is an error.
func loadConfig(cmd *cobra.Command) (*pkg.Config, error) {
	cfg, err := pkg.ReadConfig(cfgFile)
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg, err = pkg.DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	if noColor {
		cfg.Log.Color = false
	}
	return cfg, nil
}

func newLoggers(cfg *pkg.Config) (*log.Logger, *logger.ColorLogger) {
	lg := log.New(os.Stdout, cfg.Log.Prefix, 1|4)
	if cfg.Log.Color {
		return lg, logger.NewColorLogger(lg)
	}
	return lg, logger.NewPlainLogger(lg)
}

// engineLogger is the logger handed to library code, silent unless verbose.
func engineLogger(lg *log.Logger) *log.Logger {
	if verbose {
		return lg
	}
	return nil
}
