// Package device reads push-up counts from the microcontroller's serial link.
package device

import (
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"

	"github.com/grass-leaderboard/internal/config"
)

// Open opens the serial port described by cfg. The port is configured with
// a read timeout so a blocked read notices shutdown.
func Open(cfg *config.DeviceConfig) (serial.Port, error) {
	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Port, err)
		}
	}
	return port, nil
}

// Ports lists the serial ports present on this machine
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

// ContextReader turns the empty reads a timed-out serial port produces into
// retries, and into io.EOF once ctx is done.
type ContextReader struct {
	ctx context.Context
	r   io.Reader
}

// NewContextReader wraps r
func NewContextReader(ctx context.Context, r io.Reader) *ContextReader {
	return &ContextReader{ctx: ctx, r: r}
}

func (c *ContextReader) Read(p []byte) (int, error) {
	for {
		if c.ctx.Err() != nil {
			return 0, io.EOF
		}
		n, err := c.r.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
}
