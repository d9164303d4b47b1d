package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/execserver/internal/auth"
)

var (
	subjectFlag string
	ttlFlag     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API token signed with the configured secret",
	Long: `Print a bearer token for the API. Saved notebooks are scoped to the
token's subject.

Examples:
  execserver token --subject alice
  curl -H "Authorization: Bearer $(execserver token --subject alice)" ...`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&subjectFlag, "subject", "", "Identity to issue the token for (required)")
	tokenCmd.Flags().DurationVar(&ttlFlag, "ttl", 0, "Token lifetime (default auth.token_ttl)")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Auth.Enabled() {
		return errors.New("auth.secret is not set; tokens are not required")
	}

	tokens, err := auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	var token string
	if ttlFlag > 0 {
		token, err = tokens.GenerateWithDuration(subjectFlag, ttlFlag)
	} else {
		token, err = tokens.Generate(subjectFlag)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
