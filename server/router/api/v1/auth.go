package v1

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"

	"github.com/guildsage/guildsage/plugin/discord"
)

const oauthStateCookie = "guildsage_oauth_state"

func (s *APIV1Service) oauthConfig() *oauth2.Config {
	return discord.OAuthConfig(
		s.Profile.DiscordClientID,
		s.Profile.DiscordClientSecret,
		s.Profile.DiscordRedirectURL,
		nil,
	)
}

// HandleDiscordLogin starts the OAuth authorization-code flow.
//
//	GET /auth/discord/login
func (s *APIV1Service) HandleDiscordLogin(c echo.Context) error {
	if s.TokenStore == nil {
		return errorResponse(c, http.StatusServiceUnavailable, "discord oauth is not configured")
	}

	state := uuid.NewString()
	c.SetCookie(&http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/discord",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusFound, s.oauthConfig().AuthCodeURL(state))
}

// HandleDiscordCallback finishes the OAuth flow and stores the token.
//
//	GET /auth/discord/callback
func (s *APIV1Service) HandleDiscordCallback(c echo.Context) error {
	if s.TokenStore == nil {
		return errorResponse(c, http.StatusServiceUnavailable, "discord oauth is not configured")
	}

	cookie, err := c.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != c.QueryParam("state") {
		return errorResponse(c, http.StatusBadRequest, "oauth state mismatch")
	}
	code := c.QueryParam("code")
	if code == "" {
		return errorResponse(c, http.StatusBadRequest, "missing authorization code")
	}

	ctx := c.Request().Context()
	token, err := s.oauthConfig().Exchange(ctx, code)
	if err != nil {
		slog.Error("oauth code exchange failed", "error", err)
		return errorResponse(c, http.StatusBadGateway, "failed to exchange authorization code")
	}
	if err := s.TokenStore.Save(token); err != nil {
		slog.Error("failed to persist oauth token", "error", err)
		return errorResponse(c, http.StatusInternalServerError, "failed to store token")
	}

	// Best effort: greet the user by name so the page confirms who linked.
	username := ""
	if client, err := discord.NewClient(&discord.ClientConfig{
		Token:     token.AccessToken,
		TokenType: discord.TokenTypeBearer,
	}); err == nil {
		if me, err := client.Me(ctx); err == nil {
			username = me.Username
		}
	}

	slog.Info("discord account linked", "username", username)
	return c.JSON(http.StatusOK, map[string]string{
		"status":   "authorized",
		"username": username,
	})
}
