package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/guildsage/guildsage/plugin/discord"
)

// loginTimeout is how long the command waits for the browser callback.
const loginTimeout = 5 * time.Minute

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize GuildSage to read Discord on your behalf",
	Long: `Runs the OAuth flow against Discord and stores the resulting token
encrypted under the data directory. Use this when no bot token is available;
sync runs will read history with your own account's access.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		instanceProfile, err := buildProfile()
		if err != nil {
			return err
		}
		setupLogger(instanceProfile, false)

		if instanceProfile.DiscordClientID == "" || instanceProfile.DiscordClientSecret == "" {
			return errors.New("set GUILDSAGE_DISCORD_CLIENT_ID and GUILDSAGE_DISCORD_CLIENT_SECRET first")
		}
		if instanceProfile.APISecret == "" {
			return errors.New("set GUILDSAGE_API_SECRET, it encrypts the stored token")
		}

		tokenStore, err := discord.NewTokenStore(instanceProfile.Data, instanceProfile.APISecret)
		if err != nil {
			return err
		}

		conf := discord.OAuthConfig(
			instanceProfile.DiscordClientID,
			instanceProfile.DiscordClientSecret,
			instanceProfile.DiscordRedirectURL,
			nil,
		)
		redirect, err := url.Parse(conf.RedirectURL)
		if err != nil {
			return errors.Wrap(err, "invalid redirect url")
		}

		state := uuid.NewString()
		type callback struct {
			code string
			err  error
		}
		callbacks := make(chan callback, 1)

		mux := http.NewServeMux()
		mux.HandleFunc(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("state") != state {
				http.Error(w, "state mismatch", http.StatusBadRequest)
				callbacks <- callback{err: errors.New("oauth state mismatch")}
				return
			}
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "missing code", http.StatusBadRequest)
				callbacks <- callback{err: errors.New("discord returned no authorization code")}
				return
			}
			fmt.Fprintln(w, "Authorized. You can close this tab and return to the terminal.")
			callbacks <- callback{code: code}
		})

		srv := &http.Server{Addr: redirect.Host, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				callbacks <- callback{err: errors.Wrapf(err, "failed to listen on %s", redirect.Host)}
			}
		}()

		fmt.Println("Open this URL in your browser to authorize GuildSage:")
		fmt.Println()
		fmt.Println("  " + conf.AuthCodeURL(state))
		fmt.Println()

		ctx := cmd.Context()
		var cb callback
		select {
		case cb = <-callbacks:
		case <-time.After(loginTimeout):
			cb = callback{err: errors.New("timed out waiting for the browser callback")}
		case <-ctx.Done():
			cb = callback{err: ctx.Err()}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)

		if cb.err != nil {
			return cb.err
		}

		token, err := conf.Exchange(ctx, cb.code)
		if err != nil {
			return errors.Wrap(err, "token exchange failed")
		}
		if err := tokenStore.Save(token); err != nil {
			return err
		}

		client, err := discord.NewClient(&discord.ClientConfig{
			Token:     token.AccessToken,
			TokenType: discord.TokenTypeBearer,
		})
		if err == nil {
			if me, meErr := client.Me(ctx); meErr == nil {
				fmt.Printf("Authorized as %s\n", me.Username)
				return nil
			}
		}
		fmt.Println("Authorization saved")
		return nil
	},
}
