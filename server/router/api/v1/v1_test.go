package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildsage/guildsage/ai"
	"github.com/guildsage/guildsage/ai/rag"
	"github.com/guildsage/guildsage/ai/vector"
	"github.com/guildsage/guildsage/ingest"
	"github.com/guildsage/guildsage/internal/profile"
	"github.com/guildsage/guildsage/plugin/discord"
	"github.com/guildsage/guildsage/store"
)

func newTestService(t *testing.T, secret string) (*APIV1Service, *echo.Echo) {
	t.Helper()
	svc := NewAPIV1Service(secret, &profile.Profile{}, store.New(nil, nil))
	e := echo.New()
	svc.Register(e)
	return svc, e
}

func doJSON(e *echo.Echo, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// keywordEmbedder maps texts onto two axes, deploy-talk and lunch-talk, so
// similarity is exact and predictable.
type keywordEmbedder struct{}

func (keywordEmbedder) vector(text string) []float32 {
	v := make([]float32, 2)
	lowered := strings.ToLower(text)
	if strings.Contains(lowered, "deploy") {
		v[0] = 1
	}
	if strings.Contains(lowered, "lunch") {
		v[1] = 1
	}
	return v
}

func (k keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return k.vector(text), nil
}

func (k keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = k.vector(text)
	}
	return out, nil
}

func (keywordEmbedder) Model() string { return "keyword-test" }

type fakeChat struct {
	reply string
	calls int
}

func (f *fakeChat) Chat(context.Context, []ai.Message) (string, *ai.LLMCallStats, error) {
	f.calls++
	return f.reply, &ai.LLMCallStats{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
}

// withAnswerer wires a deterministic retrieval stack onto the service.
func withAnswerer(t *testing.T, svc *APIV1Service, chat *fakeChat) {
	t.Helper()
	ctx := context.Background()

	seedAt := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC).UnixMilli()
	messages := []*store.Message{
		{ID: "m1", ChannelID: "ops", Author: "dana", AuthorID: "u1", PostedTs: seedAt, Text: "the deploy to prod failed"},
		{ID: "m2", ChannelID: "ops", Author: "sam", AuthorID: "u2", PostedTs: seedAt + 60_000, Text: "rolling the deploy back", ParentID: "m1"},
		{ID: "m3", ChannelID: "general", Author: "lee", AuthorID: "u3", PostedTs: seedAt + 120_000, Text: "lunch at noon"},
	}
	for _, msg := range messages {
		_, err := svc.Store.UpsertMessage(ctx, msg)
		require.NoError(t, err)
	}

	embedder := keywordEmbedder{}
	indexer := rag.NewIndexer(svc.Store, vector.NewMemoryIndex(), embedder, nil)
	_, err := indexer.IndexMessages(ctx, messages)
	require.NoError(t, err)

	svc.Indexer = indexer
	svc.Answerer = rag.NewAnswerer(
		indexer,
		rag.NewAssembler(svc.Store, nil),
		svc.Store,
		chat,
		&rag.AnswererConfig{MinScore: 0.5, RetryBackoff: time.Millisecond},
	)
}

func TestAskWithoutAIConfigured(t *testing.T) {
	_, e := newTestService(t, "")
	rec := doJSON(e, http.MethodPost, "/api/v1/ask", `{"question":"anything"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAskAnswersQuestion(t *testing.T) {
	svc, e := newTestService(t, "")
	chat := &fakeChat{reply: "The deploy failed and sam rolled it back."}
	withAnswerer(t, svc, chat)

	rec := doJSON(e, http.MethodPost, "/api/v1/ask", `{"question":"what happened to the deploy?"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := &askResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), resp))
	assert.Equal(t, rag.OutcomeAnswered, resp.Outcome)
	assert.Equal(t, chat.reply, resp.Answer)
	require.NotEmpty(t, resp.Excerpts)
	assert.Equal(t, "m1", resp.Excerpts[0].AnchorID)
	assert.Equal(t, "ops", resp.Excerpts[0].ChannelID)
	assert.Equal(t, 2, resp.Excerpts[0].Messages) // anchor plus its reply
	assert.Contains(t, resp.Excerpts[0].Preview, "deploy")
	require.NotNil(t, resp.Stats)
	assert.Equal(t, 15, resp.Stats.TotalTokens)
	assert.Equal(t, 1, chat.calls)
}

func TestAskNoContextSkipsLLM(t *testing.T) {
	svc, e := newTestService(t, "")
	chat := &fakeChat{reply: "should not be called"}
	withAnswerer(t, svc, chat)

	rec := doJSON(e, http.MethodPost, "/api/v1/ask", `{"question":"anything about kubernetes?"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := &askResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), resp))
	assert.Equal(t, rag.OutcomeNoContext, resp.Outcome)
	assert.Empty(t, resp.Excerpts)
	assert.Empty(t, resp.Answer)
	assert.Equal(t, 0, chat.calls)
}

func TestAskValidation(t *testing.T) {
	svc, e := newTestService(t, "")
	withAnswerer(t, svc, &fakeChat{reply: "ok"})

	tests := []struct {
		name string
		body string
	}{
		{"missing question", `{}`},
		{"blank question", `{"question":"   "}`},
		{"malformed json", `{"question":`},
		{"bad filter", `{"question":"q","filter":"author =="}`},
		{"unknown filter variable", `{"question":"q","filter":"guild == \"g\""}`},
		{"top_k too large", `{"question":"q","top_k":500}`},
		{"negative top_k", `{"question":"q","top_k":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(e, http.MethodPost, "/api/v1/ask", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

// syncLister serves one channel with two messages, then empty pages.
type syncLister struct{}

func (syncLister) Guilds(context.Context) ([]*discord.Guild, error) {
	return []*discord.Guild{{ID: "g1", Name: "guild"}}, nil
}

func (syncLister) GuildChannels(context.Context, string) ([]*discord.Channel, error) {
	return []*discord.Channel{{ID: "c1", GuildID: "g1", Name: "ops", Type: discord.ChannelTypeGuildText}}, nil
}

func (syncLister) ActiveThreads(context.Context, string) ([]*discord.Channel, error) {
	return nil, nil
}

func (syncLister) Messages(_ context.Context, _ string, opts *discord.MessagesOptions) ([]*discord.RawMessage, error) {
	if opts == nil || opts.After != "0" {
		return nil, nil
	}
	ts := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	return []*discord.RawMessage{
		{
			ID:        "101",
			ChannelID: "c1",
			Author:    &discord.User{ID: "u1", Username: "dana"},
			Content:   "first",
			Timestamp: ts.Format(time.RFC3339),
		},
		{
			ID:        "102",
			ChannelID: "c1",
			Author:    &discord.User{ID: "u2", Username: "sam"},
			Content:   "second",
			Timestamp: ts.Add(time.Minute).Format(time.RFC3339),
		},
	}, nil
}

func withSyncer(svc *APIV1Service) {
	pipeline := ingest.NewPipeline(svc.Store, nil, nil)
	svc.Pipeline = pipeline
	svc.Syncer = ingest.NewSyncer(syncLister{}, pipeline, svc.Store, &ingest.SyncerConfig{GuildID: "g1"})
}

func TestSyncWithoutDiscordConfigured(t *testing.T) {
	_, e := newTestService(t, "")
	rec := doJSON(e, http.MethodPost, "/api/v1/sync", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSyncWaitReturnsReport(t *testing.T) {
	svc, e := newTestService(t, "")
	withSyncer(svc)

	rec := doJSON(e, http.MethodPost, "/api/v1/sync?wait=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	status := &syncStatus{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), status))
	assert.NotEmpty(t, status.RunID)
	assert.False(t, status.Running)
	require.NotNil(t, status.Report)
	assert.Equal(t, 2, status.Report.Result.New)

	// The status endpoint reports the same finished run.
	rec = doJSON(e, http.MethodGet, "/api/v1/sync/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	again := &syncStatus{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), again))
	assert.Equal(t, status.RunID, again.RunID)
}

func TestSyncSingleFlight(t *testing.T) {
	svc, e := newTestService(t, "")
	withSyncer(svc)

	svc.syncRunning.Store(true)
	rec := doJSON(e, http.MethodPost, "/api/v1/sync", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	svc.syncRunning.Store(false)
	rec = doJSON(e, http.MethodPost, "/api/v1/sync?wait=true", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatsReportsChannels(t *testing.T) {
	svc, e := newTestService(t, "")
	ctx := context.Background()
	seedAt := time.Now().UnixMilli()
	for _, msg := range []*store.Message{
		{ID: "m1", ChannelID: "ops", Author: "dana", AuthorID: "u1", PostedTs: seedAt, Text: "one"},
		{ID: "m2", ChannelID: "ops", Author: "sam", AuthorID: "u2", PostedTs: seedAt + 1, Text: "two", ThreadID: "t1"},
	} {
		_, err := svc.Store.UpsertMessage(ctx, msg)
		require.NoError(t, err)
	}

	rec := doJSON(e, http.MethodGet, "/api/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := &statsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), resp))
	require.Len(t, resp.Channels, 1)
	assert.Equal(t, "ops", resp.Channels[0].ChannelID)
	assert.Equal(t, 2, resp.Channels[0].Messages)
	assert.Equal(t, 1, resp.Channels[0].Threads)
	assert.Equal(t, 2, resp.TotalMessages)
}
