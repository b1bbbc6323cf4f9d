package v1

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/guildsage/guildsage/ai"
	"github.com/guildsage/guildsage/ai/rag"
	"github.com/guildsage/guildsage/ai/vector"
	"github.com/guildsage/guildsage/internal/strutil"
)

// maxRequestTopK caps the per-request hit count override.
const maxRequestTopK = 50

type askRequest struct {
	Question    string `json:"question"`
	ChannelID   string `json:"channel_id,omitempty"`
	PostedAfter int64  `json:"posted_after,omitempty"`
	Filter      string `json:"filter,omitempty"`
	TopK        int    `json:"top_k,omitempty"`
}

// excerptSummary is the wire form of an excerpt: enough to show where the
// answer came from without dumping every message.
type excerptSummary struct {
	AnchorID  string  `json:"anchor_id"`
	ChannelID string  `json:"channel_id"`
	ThreadID  string  `json:"thread_id,omitempty"`
	Author    string  `json:"author,omitempty"`
	Score     float32 `json:"score"`
	Messages  int     `json:"messages"`
	Preview   string  `json:"preview"`
}

type askResponse struct {
	Outcome  string            `json:"outcome"`
	Answer   string            `json:"answer,omitempty"`
	Excerpts []*excerptSummary `json:"excerpts"`
	Stats    *ai.LLMCallStats  `json:"stats,omitempty"`
}

// previewRunes bounds the excerpt preview length.
const previewRunes = 140

func summarizeExcerpts(excerpts []*rag.Excerpt) []*excerptSummary {
	out := make([]*excerptSummary, 0, len(excerpts))
	for _, excerpt := range excerpts {
		summary := &excerptSummary{
			AnchorID:  excerpt.Anchor.ID,
			ChannelID: excerpt.Anchor.ChannelID,
			ThreadID:  excerpt.Anchor.ThreadID,
			Author:    excerpt.Anchor.Author,
			Score:     excerpt.Score,
			Messages:  len(excerpt.Messages),
			Preview:   strutil.Truncate(strutil.FirstLine(excerpt.Anchor.Text), previewRunes),
		}
		out = append(out, summary)
	}
	return out
}

// HandleAsk answers a question over the ingested history.
//
//	POST /api/v1/ask
func (s *APIV1Service) HandleAsk(c echo.Context) error {
	if s.Answerer == nil {
		return errorResponse(c, http.StatusServiceUnavailable, "ai features are not configured")
	}

	req := &askRequest{}
	if err := c.Bind(req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(req.Question) == "" {
		return errorResponse(c, http.StatusBadRequest, "question is required")
	}
	if req.TopK < 0 || req.TopK > maxRequestTopK {
		return errorResponse(c, http.StatusBadRequest, "top_k out of range")
	}
	if _, err := rag.CompileFilter(req.Filter); err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	if err := s.askSemaphore.Acquire(ctx, 1); err != nil {
		return errorResponse(c, http.StatusServiceUnavailable, "server is shutting down")
	}
	defer s.askSemaphore.Release(1)

	answer, err := s.Answerer.Ask(ctx, &rag.Question{
		Text:        req.Question,
		ChannelID:   req.ChannelID,
		PostedAfter: req.PostedAfter,
		Filter:      req.Filter,
		TopK:        req.TopK,
	})
	if err != nil {
		if errors.Is(err, vector.ErrUnavailable) {
			return errorResponse(c, http.StatusServiceUnavailable, "index temporarily unavailable, retry later")
		}
		slog.Error("ask request failed", "error", err)
		return errorResponse(c, http.StatusInternalServerError, "failed to answer question")
	}
	return c.JSON(http.StatusOK, &askResponse{
		Outcome:  answer.Outcome,
		Answer:   answer.Text,
		Excerpts: summarizeExcerpts(answer.Excerpts),
		Stats:    answer.Stats,
	})
}
