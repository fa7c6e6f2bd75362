package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"

	"prism-kanban/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Print an HS256 token accepted when LOCAL_AUTH_MODE=hs256",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Read()
		if err != nil {
			return err
		}
		userID := "local-user"
		if len(args) > 0 {
			userID = args[0]
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		tok, err := localToken(cfg, userID, ttl, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

// localToken signs a token with the local shared secret, carrying the
// configured audience and issuer when set.
func localToken(cfg config.Config, userID string, ttl time.Duration, now time.Time) (string, error) {
	if cfg.LocalAuthSharedSecret == "" {
		return "", errors.New("LOCAL_AUTH_SHARED_SECRET must be set")
	}
	if userID == "" {
		return "", errors.New("user id is required")
	}
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if cfg.Auth0Audience != "" {
		claims["aud"] = cfg.Auth0Audience
	}
	if iss := cfg.Issuer(); iss != "" {
		claims["iss"] = iss
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.LocalAuthSharedSecret))
}
