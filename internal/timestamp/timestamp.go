// Package timestamp implements the periodic timestamp injector from spec
// §4.5: a single long-lived task that appends a formatted timestamp
// record to the log device on a fixed interval.
package timestamp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aeld/aesdsocket-go/internal/logdev"
)

// DefaultInterval matches spec §4.5's INTERVAL constant.
const DefaultInterval = 10 * time.Second

// Injector appends a "timestamp:<RFC1123>\n" record to a Device every
// Interval, via the standard append path, until its Run context is
// cancelled.
type Injector struct {
	dev      *logdev.Device
	interval time.Duration
	logger   *slog.Logger
}

// New constructs an Injector. interval <= 0 falls back to DefaultInterval.
func New(dev *logdev.Device, interval time.Duration, logger *slog.Logger) *Injector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{dev: dev, interval: interval, logger: logger}
}

// Run blocks, appending a timestamp record on every tick, until ctx is
// cancelled. Callers that want the injector disabled (spec §4.5: "disabled
// when the log backend is the external character device") simply never
// call Run.
func (t *Injector) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			record := []byte(fmt.Sprintf("timestamp:%s\n", now.Format(time.RFC1123)))
			if _, err := t.dev.Append(ctx, record); err != nil {
				t.logger.Warn("timestamp: append failed", "error", err)
			}
		}
	}
}
