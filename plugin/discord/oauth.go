package discord

import (
	"golang.org/x/oauth2"
)

// OAuth endpoints.
const (
	authURL  = "https://discord.com/oauth2/authorize"
	tokenURL = DefaultBaseURL + "/oauth2/token"
)

// DefaultScopes are the scopes needed to list guilds and read history on
// the user's behalf.
var DefaultScopes = []string{"identify", "guilds", "messages.read"}

// OAuthConfig builds the oauth2 authorization-code config for Discord.
// Discord wants client credentials in the POST body, not basic auth.
func OAuthConfig(clientID, clientSecret, redirectURL string, scopes []string) *oauth2.Config {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}
