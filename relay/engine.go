package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
	"log/slog"
)

// Destination is one delivery target taken from the roster.
type Destination struct {
	ID     int64
	ChatID int64
	Label  string
}

// Failure records one destination the engine gave up on.
type Failure struct {
	ID     int64
	Reason string
}

// Report summarizes one distribution.
type Report struct {
	Delivered []int64
	Failed    []Failure
}

// Summary renders the report as a short human-readable line.
func (r Report) Summary() string {
	if len(r.Failed) == 0 {
		return fmt.Sprintf("delivered to %d recipient(s)", len(r.Delivered))
	}
	reasons := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		reasons = append(reasons, fmt.Sprintf("%d", f.ID))
	}
	return fmt.Sprintf("delivered to %d recipient(s), failed for %s",
		len(r.Delivered), strings.Join(reasons, ", "))
}

// Engine fans one media item out to every destination, isolating
// per-destination failures and retrying transient ones up to the configured
// bound. Destinations are a snapshot slice; the engine never holds a lock
// across the fan-out.
type Engine struct {
	gw    Gateway
	retry Retry
}

// NewEngine builds a fan-out engine over the gateway.
func NewEngine(gw Gateway, retry Retry) *Engine {
	return &Engine{gw: gw, retry: retry.normalized()}
}

// Distribute delivers the media item to every destination in order. One
// failing destination never aborts delivery to the rest.
func (e *Engine) Distribute(ctx context.Context, ref MediaRef, caption string, dests []Destination) Report {
	start := time.Now()
	var report Report

	for _, dest := range dests {
		if err := e.deliver(ctx, ref, caption, dest); err != nil {
			report.Failed = append(report.Failed, Failure{
				ID:     dest.ID,
				Reason: err.Error(),
			})
			continue
		}
		report.Delivered = append(report.Delivered, dest.ID)
	}

	logger.Info(ctx, "relay", "distribute.done",
		slog.Int("destinations", len(dests)),
		slog.Int("delivered", len(report.Delivered)),
		slog.Int("failed", len(report.Failed)),
		slog.Duration("duration", logger.Took(start)),
	)
	return report
}

// deliver attempts one destination with bounded retries.
func (e *Engine) deliver(ctx context.Context, ref MediaRef, caption string, dest Destination) error {
	var lastErr error

	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.gw.SendPhoto(ctx, dest.ChatID, ref, caption)
		if err == nil {
			if attempt > 1 {
				logger.Info(ctx, "relay", "send.retry.success",
					slog.Int64("destination_id", dest.ID),
					slog.Int("attempt", attempt),
				)
			}
			logger.Debug(ctx, "relay", "send.success",
				slog.Int64("destination_id", dest.ID),
				slog.Int64("chat_id", dest.ChatID),
			)
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt == e.retry.MaxAttempts {
			break
		}

		delay := e.retry.Delay(err)
		logger.Debug(ctx, "relay", "send.retry.backoff",
			slog.Int64("destination_id", dest.ID),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	logger.Error(ctx, "relay", "send.fail",
		slog.Int64("destination_id", dest.ID),
		slog.Int64("chat_id", dest.ChatID),
		slog.String("err", logger.SanitizeLimit(lastErr.Error(), 256)),
		slog.Bool("retryable", retryable(lastErr)),
	)
	return lastErr
}
