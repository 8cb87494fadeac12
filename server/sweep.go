package server

import (
	"context"

	"github.com/micado-scale/submitter/submission"
)

// Sweep removes submission records that have finished their lifecycle and
// refreshes the active submission gauge. Artifact directories are already
// removed by the cleanup step; the sweep only retires the bookkeeping.
func (s *Server) Sweep(ctx context.Context) error {
	var active, retired int
	var firstErr error

	for _, sub := range s.store.List() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if sub.State != submission.StateCleanedUp {
			active++
			continue
		}
		if s.runner.IsRunning(sub.ID) {
			continue
		}
		if err := s.store.Delete(sub.ID); err != nil {
			s.logger.Error("failed to retire submission", "submission", sub.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		retired++
	}

	if s.metrics != nil {
		s.metrics.SetActiveSubmissions(active)
	}

	s.logger.Info("maintenance sweep finished", "active", active, "retired", retired)
	return firstErr
}
