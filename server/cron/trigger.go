// Package cron schedules the server's maintenance sweep.
//
// The Trigger type wraps a Sweeper and runs it according to a cron
// schedule. It is started once and runs until the context is cancelled.
package cron

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSpec is returned when the cron specification cannot be parsed.
var ErrInvalidSpec = errors.New("invalid cron spec")

// Sweeper is anything that can be run on a schedule.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// Trigger runs a Sweeper according to a cron schedule.
type Trigger struct {
	spec     string
	schedule cron.Schedule
	sweeper  Sweeper
	logger   *slog.Logger
}

// New creates a Trigger from a standard 5-field cron spec (minute, hour,
// day of month, month, day of week).
func New(spec string, sweeper Sweeper, logger *slog.Logger) (*Trigger, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidSpec, err)
	}

	return &Trigger{
		spec:     spec,
		schedule: schedule,
		sweeper:  sweeper,
		logger:   logger.With("component", "cron"),
	}, nil
}

// Start launches the scheduling loop in a goroutine and returns
// immediately. The goroutine exits when ctx is cancelled.
func (t *Trigger) Start(ctx context.Context) {
	go t.loop(ctx)
}

// NextRun returns the next scheduled run time from now.
func (t *Trigger) NextRun() time.Time {
	return t.schedule.Next(time.Now())
}

func (t *Trigger) loop(ctx context.Context) {
	for {
		next := t.schedule.Next(time.Now())
		t.logger.Debug("waiting for next sweep", "next_run", next)

		select {
		case <-ctx.Done():
			t.logger.Info("cron trigger shutting down")
			return
		case <-time.After(time.Until(next)):
			if err := t.sweeper.Sweep(ctx); err != nil {
				t.logger.Warn("scheduled sweep failed", "error", err)
			} else {
				t.logger.Info("scheduled sweep completed")
			}
		}
	}
}
