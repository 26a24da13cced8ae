package device

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
)

const maxLineBytes = 4096

// Stream delivers cleaned device lines. Lines is closed when the source is
// exhausted or the context is cancelled; Err is valid afterwards.
type Stream struct {
	lines chan string
	done  chan struct{}
	err   error
}

// Lines returns the channel of readings
func (s *Stream) Lines() <-chan string {
	return s.lines
}

// Done is closed once the reader goroutine has exited
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err reports why the stream ended. It returns nil for a clean EOF or a
// cancelled context.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Scan starts one goroutine that reads r line by line into a bounded inbox.
// When the inbox is full the oldest pending line is dropped so the consumer
// always sees the freshest readings. Lines longer than maxLineBytes are
// dropped whole and scanning continues.
func Scan(ctx context.Context, r io.Reader, inbox int, logger *slog.Logger) *Stream {
	if inbox <= 0 {
		inbox = 1
	}
	s := &Stream{
		lines: make(chan string, inbox),
		done:  make(chan struct{}),
	}
	logger = logger.With("component", "device")

	go func() {
		defer close(s.done)
		defer close(s.lines)

		reader := bufio.NewReaderSize(r, maxLineBytes)
		discarding := false
		for {
			if ctx.Err() != nil {
				return
			}
			chunk, err := reader.ReadSlice('\n')
			if errors.Is(err, bufio.ErrBufferFull) {
				// Over-long lines are noise; skip up to the next newline
				if !discarding {
					logger.Debug("discarding over-long device line", "limit", maxLineBytes)
				}
				discarding = true
				continue
			}
			if !discarding {
				if line, ok := CleanLine(chunk); ok {
					s.push(line, logger)
				}
			}
			discarding = false
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					s.err = err
				}
				return
			}
		}
	}()

	return s
}

func (s *Stream) push(line string, logger *slog.Logger) {
	select {
	case s.lines <- line:
		return
	default:
	}
	select {
	case dropped := <-s.lines:
		logger.Debug("inbox full, dropping oldest reading", "dropped", dropped)
	default:
	}
	select {
	case s.lines <- line:
	default:
		logger.Warn("inbox full, dropping reading", "reading", line)
	}
}

// CleanLine strips invalid UTF-8 and control characters from a raw device
// line. Blank results are reported as not ok.
func CleanLine(raw []byte) (string, bool) {
	text := strings.ToValidUTF8(string(raw), "")
	text = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, text)
	text = strings.TrimSpace(text)
	return text, text != ""
}

// Tracker remembers the most recent reading
type Tracker struct {
	mu     sync.RWMutex
	latest string
	at     time.Time
	seen   bool
	count  int
}

// Observe records a reading
func (t *Tracker) Observe(line string) {
	t.mu.Lock()
	t.latest = line
	t.at = time.Now()
	t.seen = true
	t.count++
	t.mu.Unlock()
}

// Latest returns the last reading and whether any was seen
func (t *Tracker) Latest() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest, t.seen
}

// Count returns how many readings were observed
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Follow observes every line until the channel closes or ctx is done. Each
// line is also passed to fn when it is not nil.
func (t *Tracker) Follow(ctx context.Context, lines <-chan string, fn func(string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			t.Observe(line)
			if fn != nil {
				fn(line)
			}
		}
	}
}
