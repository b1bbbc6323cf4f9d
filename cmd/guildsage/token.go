package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/guildsage/guildsage/server/auth"
)

var (
	tokenName string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API access token",
	RunE: func(_ *cobra.Command, _ []string) error {
		instanceProfile, err := buildProfile()
		if err != nil {
			return err
		}
		if instanceProfile.APISecret == "" {
			return errors.New("set GUILDSAGE_API_SECRET before minting tokens")
		}

		var expires time.Time
		if tokenTTL > 0 {
			expires = time.Now().Add(tokenTTL)
		}
		token, err := auth.GenerateAccessToken(tokenName, expires, []byte(instanceProfile.APISecret))
		if err != nil {
			return err
		}

		fmt.Println(token)
		if !expires.IsZero() {
			fmt.Fprintf(os.Stderr, "Expires %s\n", expires.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenName, "name", "cli", "principal name embedded in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTokenDuration, "token lifetime, 0 for no expiry")
}
