package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// startScheduler launches the cron sync loop when a schedule is configured.
func (s *Server) startScheduler(ctx context.Context) {
	cronExpr := s.Profile.SyncCron
	if cronExpr == "" {
		return
	}
	if !gronx.IsValid(cronExpr) {
		slog.Error("invalid sync cron expression, scheduler disabled", "cron", cronExpr)
		return
	}

	slog.Info("sync scheduler started", "cron", cronExpr)
	go s.runScheduler(ctx, cronExpr)
}

// runScheduler sleeps until each cron tick and triggers a sync run. A run
// still in progress at the next tick is not stacked; the tick is skipped.
func (s *Server) runScheduler(ctx context.Context, cronExpr string) {
	for {
		next, err := gronx.NextTickAfter(cronExpr, time.Now(), false)
		if err != nil {
			slog.Error("failed to compute next sync tick", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}

		select {
		case <-time.After(wait):
			if s.apiV1Service.TriggerSync(ctx) {
				slog.Info("scheduled sync triggered", "cron", cronExpr)
			} else {
				slog.Warn("scheduled sync skipped, previous run still in progress")
			}
		case <-ctx.Done():
			slog.Info("sync scheduler stopping")
			return
		}
	}
}
