package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main process.
type Profile struct {
	// LLM configuration (OpenAI-compatible protocol). All providers
	// (openai, deepseek, openrouter, ollama) use the same config.
	LLMProvider string
	LLMAPIKey   string
	LLMBaseURL  string // optional, has default per provider
	LLMModel    string
	LLMTimeout  int // request timeout in seconds

	// Embedding configuration. The dimension must match the model; changing
	// either invalidates stored embeddings.
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int
	EmbeddingBatchSize  int

	// Discord configuration.
	DiscordBotToken     string
	DiscordClientID     string
	DiscordClientSecret string
	DiscordRedirectURL  string
	DiscordGuildID      string

	// Retrieval configuration.
	SearchTopK         int
	SearchMinScore     float64
	AncestorDepth      int
	DescendantDepth    int
	DescendantFanout   int
	MaxExcerpts        int
	MaxContextMessages int

	// Server configuration.
	APISecret       string // HS256 secret for API tokens; empty disables auth
	SyncCron        string // cron expression for periodic sync, empty disables
	SyncConcurrency int    // channels synced in parallel

	// Other configurations.
	Mode        string
	Addr        string
	Port        int
	Data        string
	Driver      string
	DSN         string
	Version     string
	InstanceURL string
	AIEnabled   bool
}

// Provider default configurations for LLM.
// Used when LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "openai/gpt-4o-mini",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if the LLM API key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("GUILDSAGE_AI_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("GUILDSAGE_AI_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("GUILDSAGE_AI_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("GUILDSAGE_AI_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("GUILDSAGE_AI_LLM_TIMEOUT_SECONDS", 120)

	// AI is enabled if API key is configured
	p.AIEnabled = p.LLMAPIKey != ""

	// Validate and apply provider defaults if not explicitly set
	if p.LLMProvider != "" {
		if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
			slog.Warn("Unknown LLM provider, using default: openai", "provider", p.LLMProvider)
			p.LLMProvider = "openai"
		}
	}
	if p.LLMBaseURL == "" || p.LLMModel == "" {
		if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
			if p.LLMBaseURL == "" {
				p.LLMBaseURL = defaults.BaseURL
			}
			if p.LLMModel == "" {
				p.LLMModel = defaults.Model
			}
		}
	}

	// Embedding configuration. The API key falls back to the LLM key so a
	// single OpenAI key covers both.
	p.EmbeddingModel = getEnvOrDefault("GUILDSAGE_AI_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingAPIKey = getEnvOrDefault("GUILDSAGE_AI_EMBEDDING_API_KEY", p.LLMAPIKey)
	p.EmbeddingBaseURL = getEnvOrDefault("GUILDSAGE_AI_EMBEDDING_BASE_URL", "https://api.openai.com/v1")
	p.EmbeddingDimensions = getEnvOrDefaultInt("GUILDSAGE_AI_EMBEDDING_DIMENSIONS", 1536)
	p.EmbeddingBatchSize = getEnvOrDefaultInt("GUILDSAGE_AI_EMBEDDING_BATCH_SIZE", 64)

	// Discord configuration. The redirect defaults to the instance URL when
	// one is configured, so only local development needs the localhost form.
	p.DiscordBotToken = getEnvOrDefault("GUILDSAGE_DISCORD_BOT_TOKEN", "")
	p.DiscordClientID = getEnvOrDefault("GUILDSAGE_DISCORD_CLIENT_ID", "")
	p.DiscordClientSecret = getEnvOrDefault("GUILDSAGE_DISCORD_CLIENT_SECRET", "")
	defaultRedirect := "http://localhost:8230/auth/discord/callback"
	if p.InstanceURL != "" {
		defaultRedirect = strings.TrimRight(p.InstanceURL, "/") + "/auth/discord/callback"
	}
	p.DiscordRedirectURL = getEnvOrDefault("GUILDSAGE_DISCORD_REDIRECT_URL", defaultRedirect)
	p.DiscordGuildID = getEnvOrDefault("GUILDSAGE_DISCORD_GUILD_ID", "")

	// Retrieval configuration
	p.SearchTopK = getEnvOrDefaultInt("GUILDSAGE_SEARCH_TOP_K", 8)
	p.SearchMinScore = getEnvOrDefaultFloat("GUILDSAGE_SEARCH_MIN_SCORE", 0)
	p.AncestorDepth = getEnvOrDefaultInt("GUILDSAGE_CONTEXT_ANCESTOR_DEPTH", 4)
	p.DescendantDepth = getEnvOrDefaultInt("GUILDSAGE_CONTEXT_DESCENDANT_DEPTH", 2)
	p.DescendantFanout = getEnvOrDefaultInt("GUILDSAGE_CONTEXT_DESCENDANT_FANOUT", 5)
	p.MaxExcerpts = getEnvOrDefaultInt("GUILDSAGE_CONTEXT_MAX_EXCERPTS", 6)
	p.MaxContextMessages = getEnvOrDefaultInt("GUILDSAGE_CONTEXT_MAX_MESSAGES", 60)

	// Server configuration
	p.APISecret = getEnvOrDefault("GUILDSAGE_API_SECRET", "")
	p.SyncCron = getEnvOrDefault("GUILDSAGE_SYNC_CRON", "")
	p.SyncConcurrency = getEnvOrDefaultInt("GUILDSAGE_SYNC_CONCURRENCY", 4)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "guildsage")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/guildsage"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("guildsage_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.EmbeddingDimensions <= 0 {
		return errors.Errorf("embedding dimensions must be positive, got %d", p.EmbeddingDimensions)
	}
	if p.SyncConcurrency <= 0 {
		p.SyncConcurrency = 1
	}

	return nil
}
