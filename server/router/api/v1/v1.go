// Package v1 is the REST surface: ask, sync, stats, and the Discord OAuth
// flow, served under /api/v1 behind optional bearer auth.
package v1

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/guildsage/guildsage/ai"
	"github.com/guildsage/guildsage/ai/metrics"
	"github.com/guildsage/guildsage/ai/rag"
	"github.com/guildsage/guildsage/ai/vector"
	"github.com/guildsage/guildsage/ingest"
	"github.com/guildsage/guildsage/internal/profile"
	"github.com/guildsage/guildsage/plugin/discord"
	"github.com/guildsage/guildsage/store"
)

// maxConcurrentAsks bounds in-flight retrieval pipelines. Each ask fans out
// into embedding and LLM calls, so a small bound keeps provider rate limits
// and memory in check.
const maxConcurrentAsks = 4

type APIV1Service struct {
	Secret  string
	Profile *profile.Profile
	Store   *store.Store

	Metrics  *metrics.PrometheusExporter
	Indexer  *rag.Indexer
	Answerer *rag.Answerer
	Pipeline *ingest.Pipeline
	Syncer   *ingest.Syncer

	Discord    *discord.Client
	TokenStore *discord.TokenStore

	askSemaphore *semaphore.Weighted

	// backgroundCtx bounds detached work, sync runs in particular, so
	// shutdown cancels them. Set once by StartBackground.
	backgroundCtx context.Context

	syncRunning atomic.Bool
	syncMu      sync.Mutex // guards lastSync
	lastSync    *syncStatus
}

// NewAPIV1Service wires the retrieval and ingestion services the profile
// enables. An instance without AI keys still serves sync and stats; an
// instance without a Discord token still serves ask over whatever history
// it has.
func NewAPIV1Service(secret string, prof *profile.Profile, st *store.Store) *APIV1Service {
	s := &APIV1Service{
		Secret:       secret,
		Profile:      prof,
		Store:        st,
		Metrics:      metrics.NewPrometheusExporter(metrics.DefaultConfig()),
		askSemaphore: semaphore.NewWeighted(maxConcurrentAsks),
	}

	if prof.IsAIEnabled() {
		s.initAI()
	} else {
		slog.Info("ai features disabled, ask endpoint will reject requests")
	}
	s.initDiscord()
	return s
}

func (s *APIV1Service) initAI() {
	aiConfig := ai.NewConfigFromProfile(s.Profile)
	embedding, err := ai.NewEmbeddingService(&aiConfig.Embedding)
	if err != nil {
		slog.Warn("failed to initialize embedding service", "error", err)
		return
	}

	var index vector.Index
	if s.Store.GetDriver() != nil {
		index = vector.NewStoreIndex(s.Store, embedding.Model())
	} else {
		index = vector.NewMemoryIndex()
	}
	s.Indexer = rag.NewIndexer(s.Store, index, embedding, &rag.IndexerConfig{
		BatchSize: s.Profile.EmbeddingBatchSize,
		Metrics:   s.Metrics,
	})

	llm, err := ai.NewLLMService(&aiConfig.LLM)
	if err != nil {
		slog.Warn("failed to initialize llm service, ask endpoint will reject requests", "error", err)
		return
	}
	slog.Info("llm service initialized",
		"provider", aiConfig.LLM.Provider,
		"model", aiConfig.LLM.Model,
	)

	assembler := rag.NewAssembler(s.Store, &rag.AssemblerConfig{
		AncestorDepth:      s.Profile.AncestorDepth,
		DescendantDepth:    s.Profile.DescendantDepth,
		DescendantFanout:   s.Profile.DescendantFanout,
		MaxExcerpts:        s.Profile.MaxExcerpts,
		MaxContextMessages: s.Profile.MaxContextMessages,
	})
	s.Answerer = rag.NewAnswerer(s.Indexer, assembler, s.Store, llm, &rag.AnswererConfig{
		TopK:     s.Profile.SearchTopK,
		MinScore: float32(s.Profile.SearchMinScore),
		LLMModel: aiConfig.LLM.Model,
		Metrics:  s.Metrics,
	})
}

func (s *APIV1Service) initDiscord() {
	if s.Profile.DiscordClientID != "" && s.Profile.DiscordClientSecret != "" && s.Secret != "" {
		tokenStore, err := discord.NewTokenStore(s.Profile.Data, s.Secret)
		if err != nil {
			slog.Warn("failed to open discord token store", "error", err)
		} else {
			s.TokenStore = tokenStore
		}
	}

	client, err := s.discordClient()
	if err != nil {
		slog.Info("discord sync disabled", "reason", err)
		return
	}
	s.Discord = client

	var indexer ingest.Indexer
	if s.Indexer != nil {
		indexer = s.Indexer
	}
	s.Pipeline = ingest.NewPipeline(s.Store, indexer, &ingest.PipelineConfig{Metrics: s.Metrics})
	s.Syncer = ingest.NewSyncer(client, s.Pipeline, s.Store, &ingest.SyncerConfig{
		GuildID:     s.Profile.DiscordGuildID,
		Concurrency: s.Profile.SyncConcurrency,
		Metrics:     s.Metrics,
	})
}

// discordClient builds a client from the bot token, falling back to a saved
// OAuth token.
func (s *APIV1Service) discordClient() (*discord.Client, error) {
	if s.Profile.DiscordBotToken != "" {
		return discord.NewClient(&discord.ClientConfig{
			Token:     s.Profile.DiscordBotToken,
			TokenType: discord.TokenTypeBot,
		})
	}
	if s.TokenStore != nil {
		conf := discord.OAuthConfig(
			s.Profile.DiscordClientID,
			s.Profile.DiscordClientSecret,
			s.Profile.DiscordRedirectURL,
			nil,
		)
		token, err := s.TokenStore.Token(context.Background(), conf)
		if err == nil {
			return discord.NewClient(&discord.ClientConfig{
				Token:     token.AccessToken,
				TokenType: discord.TokenTypeBearer,
			})
		}
	}
	return nil, errors.New("no discord credentials configured")
}

// StartBackground launches the pipeline's index worker. It runs until ctx
// is canceled.
func (s *APIV1Service) StartBackground(ctx context.Context) {
	s.backgroundCtx = ctx
	if s.Pipeline != nil {
		s.Pipeline.Start(ctx)
	}
}

func (s *APIV1Service) backgroundContext() context.Context {
	if s.backgroundCtx != nil {
		return s.backgroundCtx
	}
	return context.Background()
}

// Close waits for background work to drain. Call after the context given to
// StartBackground is canceled.
func (s *APIV1Service) Close() {
	if s.Pipeline != nil {
		s.Pipeline.Wait()
	}
}

// Register mounts the API routes on the echo server.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	// OAuth routes stay public; the browser arrives without a bearer token.
	authGroup := echoServer.Group("/auth/discord")
	authGroup.GET("/login", s.HandleDiscordLogin)
	authGroup.GET("/callback", s.HandleDiscordCallback)

	apiGroup := echoServer.Group("/api/v1")
	apiGroup.Use(middleware.CORS())
	if s.Secret != "" {
		apiGroup.Use(s.bearerAuthMiddleware)
	}
	apiGroup.POST("/ask", s.HandleAsk)
	apiGroup.POST("/sync", s.HandleSync)
	apiGroup.GET("/sync/status", s.HandleSyncStatus)
	apiGroup.GET("/stats", s.HandleStats)
}

func errorResponse(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"message": message})
}
