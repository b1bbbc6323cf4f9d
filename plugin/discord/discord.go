// Package discord implements a minimal Discord REST client: enough to walk
// a guild's channels and threads and page through message history.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Discord REST API root.
	DefaultBaseURL = "https://discord.com/api/v10"

	// MaxMessagePageSize is Discord's hard page limit for message history.
	MaxMessagePageSize = 100

	// Token prefixes. Bot tokens come from the developer portal, bearer
	// tokens from the OAuth flow.
	TokenTypeBot    = "Bot"
	TokenTypeBearer = "Bearer"
)

var (
	// ErrUnauthorized is returned when Discord rejects the token.
	ErrUnauthorized = errors.New("discord: unauthorized")

	// ErrForbidden is returned when the token lacks access to a resource.
	// The sync walk skips such channels instead of failing the run.
	ErrForbidden = errors.New("discord: forbidden")
)

// rateLimitRetries is how many 429 responses a single call absorbs before
// giving up.
const rateLimitRetries = 3

// ClientConfig configures a Client.
type ClientConfig struct {
	Token     string
	TokenType string // TokenTypeBot (default) or TokenTypeBearer

	// BaseURL overrides the API root. Mainly for tests.
	BaseURL string

	// RequestsPerSecond is the client-side rate limit. Defaults to 5, well
	// under Discord's global limit, so sync runs stay polite.
	RequestsPerSecond float64
	Burst             int
}

// Client is a Discord REST client. All calls are rate limited client-side
// and honor Discord's retry_after on 429 responses.
type Client struct {
	baseURL string
	authz   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil || cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	tokenType := cfg.TokenType
	if tokenType == "" {
		tokenType = TokenTypeBot
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}

	return &Client{
		baseURL: baseURL,
		authz:   fmt.Sprintf("%s %s", tokenType, cfg.Token),
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

// Me returns the user the token belongs to.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.get(ctx, "/users/@me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Guilds returns the guilds the token can see.
func (c *Client) Guilds(ctx context.Context) ([]*Guild, error) {
	var guilds []*Guild
	if err := c.get(ctx, "/users/@me/guilds", nil, &guilds); err != nil {
		return nil, err
	}
	return guilds, nil
}

// GuildChannels returns all channels of a guild, including categories and
// voice channels; callers filter with IsTextChannel.
func (c *Client) GuildChannels(ctx context.Context, guildID string) ([]*Channel, error) {
	var channels []*Channel
	if err := c.get(ctx, "/guilds/"+guildID+"/channels", nil, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// ActiveThreads returns the guild's active (non-archived) threads.
func (c *Client) ActiveThreads(ctx context.Context, guildID string) ([]*Channel, error) {
	var list threadList
	if err := c.get(ctx, "/guilds/"+guildID+"/threads/active", nil, &list); err != nil {
		return nil, err
	}
	return list.Threads, nil
}

// MessagesOptions pages through a channel's history. At most one of After,
// Before and Around may be set.
type MessagesOptions struct {
	Limit  int // capped at MaxMessagePageSize; defaults to 50
	After  string
	Before string
	Around string
}

// Messages returns one page of a channel's history, oldest first. Discord
// itself returns pages newest first; sorting here keeps callers free of that
// detail.
func (c *Client) Messages(ctx context.Context, channelID string, opts *MessagesOptions) ([]*RawMessage, error) {
	if opts == nil {
		opts = &MessagesOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxMessagePageSize {
		limit = MaxMessagePageSize
	}

	query := url.Values{}
	query.Set("limit", fmt.Sprintf("%d", limit))
	switch {
	case opts.After != "":
		query.Set("after", opts.After)
	case opts.Before != "":
		query.Set("before", opts.Before)
	case opts.Around != "":
		query.Set("around", opts.Around)
	}

	var msgs []*RawMessage
	if err := c.get(ctx, "/channels/"+channelID+"/messages", query, &msgs); err != nil {
		return nil, err
	}

	// Snowflakes are time ordered; longer ids are always newer.
	sort.Slice(msgs, func(i, j int) bool {
		if len(msgs[i].ID) != len(msgs[j].ID) {
			return len(msgs[i].ID) < len(msgs[j].ID)
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", c.authz)
		req.Header.Set("Content-Type", "application/json")
		if len(query) > 0 {
			req.URL.RawQuery = query.Encode()
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("discord: request %s failed: %w", path, err)
		}

		retryAfter, err := c.handleResponse(resp, path, out)
		if err != nil {
			return err
		}
		if retryAfter <= 0 {
			return nil
		}
		if attempt >= rateLimitRetries {
			return fmt.Errorf("discord: %s still rate limited after %d retries", path, rateLimitRetries)
		}
		slog.Warn("discord: rate limited", "path", path, "retry_after", retryAfter)
		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleResponse decodes the body into out. A positive retryAfter means the
// call hit a 429 and should be repeated after that long.
func (c *Client) handleResponse(resp *http.Response, path string, out any) (retryAfter time.Duration, err error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if out == nil {
			return 0, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0, fmt.Errorf("failed to decode %s response: %w", path, err)
		}
		return 0, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		var body struct {
			RetryAfter float64 `json:"retry_after"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		delay := time.Duration(body.RetryAfter * float64(time.Second))
		if delay <= 0 {
			delay = time.Second
		}
		return delay, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return 0, fmt.Errorf("%w: %s", ErrUnauthorized, path)

	case resp.StatusCode == http.StatusForbidden:
		return 0, fmt.Errorf("%w: %s", ErrForbidden, path)

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return 0, fmt.Errorf("discord: %s returned status %d: %s", path, resp.StatusCode, body)
	}
}
