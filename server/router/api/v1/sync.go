package v1

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/guildsage/guildsage/ingest"
)

// syncStatus is the last sync run, finished or not.
type syncStatus struct {
	RunID      string             `json:"run_id,omitempty"`
	Running    bool               `json:"running"`
	StartedTs  int64              `json:"started_ts,omitempty"`
	FinishedTs int64              `json:"finished_ts,omitempty"`
	Report     *ingest.SyncReport `json:"report,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// HandleSync triggers a sync run. Runs are single-flight: a second trigger
// while one is in progress gets 409. By default the run detaches and the
// response only carries the run id; ?wait=true blocks until the run ends.
//
//	POST /api/v1/sync
func (s *APIV1Service) HandleSync(c echo.Context) error {
	if s.Syncer == nil {
		return errorResponse(c, http.StatusServiceUnavailable, "discord sync is not configured")
	}
	if !s.syncRunning.CompareAndSwap(false, true) {
		return errorResponse(c, http.StatusConflict, "a sync run is already in progress")
	}

	status := &syncStatus{
		RunID:     shortuuid.New(),
		Running:   true,
		StartedTs: time.Now().UnixMilli(),
	}
	s.syncMu.Lock()
	s.lastSync = status
	s.syncMu.Unlock()

	if c.QueryParam("wait") == "true" {
		s.runSync(c.Request().Context(), status)
		done := s.syncSnapshot()
		if done.Error != "" {
			return errorResponse(c, http.StatusInternalServerError, done.Error)
		}
		return c.JSON(http.StatusOK, done)
	}

	go s.runSync(s.backgroundContext(), status)
	return c.JSON(http.StatusAccepted, map[string]string{
		"run_id": status.RunID,
		"status": "started",
	})
}

// HandleSyncStatus reports the last sync run.
//
//	GET /api/v1/sync/status
func (s *APIV1Service) HandleSyncStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.syncSnapshot())
}

// TriggerSync starts a detached sync run unless one is already in progress.
// Used by the cron scheduler.
func (s *APIV1Service) TriggerSync(ctx context.Context) bool {
	if s.Syncer == nil {
		return false
	}
	if !s.syncRunning.CompareAndSwap(false, true) {
		return false
	}
	status := &syncStatus{
		RunID:     shortuuid.New(),
		Running:   true,
		StartedTs: time.Now().UnixMilli(),
	}
	s.syncMu.Lock()
	s.lastSync = status
	s.syncMu.Unlock()

	go s.runSync(ctx, status)
	return true
}

func (s *APIV1Service) runSync(ctx context.Context, status *syncStatus) {
	defer s.syncRunning.Store(false)
	report, err := s.Syncer.Run(ctx)

	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	status.Running = false
	status.FinishedTs = time.Now().UnixMilli()
	if err != nil {
		status.Error = err.Error()
		slog.Error("sync run failed", "run_id", status.RunID, "error", err)
		return
	}
	status.Report = report
}

func (s *APIV1Service) syncSnapshot() *syncStatus {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if s.lastSync == nil {
		return &syncStatus{}
	}
	snapshot := *s.lastSync
	return &snapshot
}
