package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grass-leaderboard/internal/device"
)

type monitorOptions struct {
	port     string
	baud     int
	count    int
	duration time.Duration
}

// NewMonitorCommand creates the monitor command.
func NewMonitorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &monitorOptions{}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print readings from the device as they arrive",
		Long: `Print readings from the device as they arrive.

Invalid bytes, control characters and blank lines are skipped.
Stops on Ctrl+C, after --count readings or after --duration.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.port, "port", "", "serial port (overrides config)")
	cmd.Flags().IntVar(&opts.baud, "baud", 0, "baud rate (overrides config)")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 0, "stop after this many readings (0 = unlimited)")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "stop after this long (0 = until interrupted)")

	return cmd
}

func runMonitor(rootOpts *RootOptions, opts *monitorOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	applyDeviceFlags(cmd, &cfg.Device, opts.port, opts.baud)
	logger := newLogger(rootOpts, cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	port, err := rootOpts.OpenDevice(&cfg.Device)
	if err != nil {
		return err
	}
	defer port.Close()
	logger.Info("connected", "port", cfg.Device.Port, "baud", cfg.Device.BaudRate)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := device.Scan(ctx, device.NewContextReader(ctx, port), cfg.Device.Inbox, logger)
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)

	var tracker device.Tracker
	tracker.Follow(ctx, stream.Lines(), func(line string) {
		if rootOpts.Format == "json" {
			_ = enc.Encode(map[string]string{
				"reading":     line,
				"received_at": time.Now().Format(time.RFC3339),
			})
		} else {
			fmt.Fprintf(out, "Received: %s\n", line)
		}
		if opts.count > 0 && tracker.Count() >= opts.count {
			cancel()
		}
	})

	cancel()
	if err := stream.Err(); err != nil {
		return fmt.Errorf("device read failed: %w", err)
	}
	return nil
}
