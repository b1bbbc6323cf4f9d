package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/guildsage/guildsage/store"
)

type channelStats struct {
	ChannelID     string `json:"channel_id"`
	Name          string `json:"name,omitempty"`
	Messages      int    `json:"messages"`
	Threads       int    `json:"threads"`
	Unresolved    int    `json:"unresolved"`
	LastMessageID string `json:"last_message_id,omitempty"`
	LastSyncTs    int64  `json:"last_sync_ts,omitempty"`
}

type statsResponse struct {
	Channels        []*channelStats `json:"channels"`
	TotalMessages   int             `json:"total_messages"`
	IndexedMessages int             `json:"indexed_messages"`
	EmbeddingModel  string          `json:"embedding_model,omitempty"`
}

// HandleStats reports per-channel message and lineage counts, joined with
// each channel's sync cursor.
//
//	GET /api/v1/stats
func (s *APIV1Service) HandleStats(c echo.Context) error {
	ctx := c.Request().Context()

	states := map[string]*store.ChannelState{}
	stateList, err := s.Store.ListChannelStates(ctx, &store.FindChannelState{})
	if err != nil {
		slog.Error("failed to list channel states", "error", err)
		return errorResponse(c, http.StatusInternalServerError, "failed to load stats")
	}
	for _, state := range stateList {
		states[state.ChannelID] = state
	}

	resp := &statsResponse{Channels: []*channelStats{}}
	for _, cs := range s.Store.ChannelStats(ctx) {
		entry := &channelStats{
			ChannelID:  cs.ChannelID,
			Messages:   cs.Messages,
			Threads:    cs.Threads,
			Unresolved: cs.Unresolved,
		}
		if state, ok := states[cs.ChannelID]; ok {
			entry.Name = state.Name
			entry.LastMessageID = state.LastMessageID
			entry.LastSyncTs = state.LastSyncTs
		}
		resp.Channels = append(resp.Channels, entry)
		resp.TotalMessages += cs.Messages
	}
	if s.Indexer != nil {
		resp.EmbeddingModel = s.Indexer.Model()
		if indexed, err := s.Indexer.Count(ctx); err == nil {
			resp.IndexedMessages = indexed
		} else {
			slog.Warn("failed to count indexed messages", "error", err)
		}
	}
	return c.JSON(http.StatusOK, resp)
}
