// Package cli implements the grass-client command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/grass-leaderboard/internal/config"
	"github.com/grass-leaderboard/internal/device"
)

// DeviceOpener opens the reading device
type DeviceOpener func(cfg *config.DeviceConfig) (io.ReadCloser, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"

	// OpenDevice defaults to the serial port; tests replace it.
	OpenDevice DeviceOpener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func openSerial(cfg *config.DeviceConfig) (io.ReadCloser, error) {
	return device.Open(cfg)
}

// NewRootCommand creates the root command for the grass client.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{OpenDevice: openSerial})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grass-client",
		Short: "Submit push-up counts and grass photos to the leaderboard",
		Long: `Reads push-up counts from the counter's serial port and submits the
latest one, together with a photo, to the leaderboard server.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMonitorCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewPortsCommand(opts))

	return cmd
}

// loadConfig reads --config when given, otherwise uses defaults
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(opts.ConfigPath)
}

// newLogger writes to stderr so stdout stays clean for results
func newLogger(opts *RootOptions, cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// applyDeviceFlags overrides the device section with flags that were set
func applyDeviceFlags(cmd *cobra.Command, cfg *config.DeviceConfig, port string, baud int) {
	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if cmd.Flags().Changed("baud") {
		cfg.BaudRate = baud
	}
}
