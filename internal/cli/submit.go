package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grass-leaderboard/internal/client"
	"github.com/grass-leaderboard/internal/config"
	"github.com/grass-leaderboard/internal/device"
	"github.com/grass-leaderboard/internal/domain"
)

type submitOptions struct {
	username string
	image    string
	reading  string
	listen   time.Duration
	server   string
	port     string
	baud     int
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &submitOptions{}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit the latest reading and a photo",
		Long: `Submit the latest reading and a photo to the leaderboard server.

Unless --reading is given, the device is read for --listen and the last
reading seen is submitted. Nothing is sent when the username, the reading
or the photo is missing.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.username, "username", "u", "", "username shown on the leaderboard")
	cmd.Flags().StringVarP(&opts.image, "image", "i", "", "path to the photo (jpg, png, bmp)")
	cmd.Flags().StringVar(&opts.reading, "reading", "", "use this reading instead of listening to the device")
	cmd.Flags().DurationVar(&opts.listen, "listen", 5*time.Second, "how long to listen to the device")
	cmd.Flags().StringVar(&opts.server, "server", "", "receive endpoint (overrides config)")
	cmd.Flags().StringVar(&opts.port, "port", "", "serial port (overrides config)")
	cmd.Flags().IntVar(&opts.baud, "baud", 0, "baud rate (overrides config)")

	return cmd
}

func runSubmit(rootOpts *RootOptions, opts *submitOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	applyDeviceFlags(cmd, &cfg.Device, opts.port, opts.baud)
	if opts.server != "" {
		cfg.Client.ServerURL = opts.server
	}
	logger := newLogger(rootOpts, cmd)

	req := client.Request{
		Username:  opts.username,
		ImagePath: opts.image,
	}
	// Fail on missing input before waiting for the device.
	probe := req
	probe.HasReading = true
	if err := probe.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd.Flags().Changed("reading") {
		req.Reading = opts.reading
		req.HasReading = true
	} else {
		reading, ok, err := listen(ctx, rootOpts, &cfg.Device, opts.listen, cmd, logger)
		if err != nil {
			return err
		}
		req.Reading, req.HasReading = reading, ok
	}

	submitter := client.NewSubmitter(&cfg.Client, logger)
	if rootOpts.Format == "text" {
		fmt.Fprintf(cmd.OutOrStdout(), "Sending reading %q for user %q to %s...\n", req.Reading, req.Username, submitter.ServerURL())
	}

	resp, err := submitter.Submit(ctx, req)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), rootOpts.Format, resp)
}

// listen reads the device for the window and returns the last reading
func listen(ctx context.Context, rootOpts *RootOptions, cfg *config.DeviceConfig, window time.Duration, cmd *cobra.Command, logger *slog.Logger) (string, bool, error) {
	port, err := rootOpts.OpenDevice(cfg)
	if err != nil {
		return "", false, err
	}
	defer port.Close()

	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	logger.Info("listening for readings", "port", cfg.Port, "window", window)
	stream := device.Scan(ctx, device.NewContextReader(ctx, port), cfg.Inbox, logger)

	var tracker device.Tracker
	tracker.Follow(ctx, stream.Lines(), func(line string) {
		if rootOpts.Format == "text" {
			fmt.Fprintf(cmd.OutOrStdout(), "Received: %s\n", line)
		}
	})
	cancel()
	if err := stream.Err(); err != nil {
		return "", false, fmt.Errorf("device read failed: %w", err)
	}

	reading, ok := tracker.Latest()
	return reading, ok, nil
}

func printResult(out io.Writer, format string, resp *domain.SubmitResponse) error {
	if format == "json" {
		return json.NewEncoder(out).Encode(resp)
	}
	fmt.Fprintf(out, "%s: %s\n", resp.Status, resp.Message)
	if e := resp.EntryDetails; e != nil {
		bonus := ""
		if e.Bonus {
			bonus = " (grass bonus x2)"
		}
		fmt.Fprintf(out, "  %s scored %d from %d push-ups%s, grass: %s\n",
			e.Username, e.Score, e.RawCount, bonus, e.GrassAnalysis)
	}
	return nil
}
