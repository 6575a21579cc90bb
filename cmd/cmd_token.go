// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/jcodagnone/placelookup/server"
	"github.com/spf13/cobra"
)

var tokenOptions = struct {
	Subject string
	TTL     time.Duration
}{}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the lookup API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if cfg.Server.SigningKey == "" {
			return errors.New("server.signing_key (or PLACELOOKUP_SIGNING_KEY) is not set")
		}

		ttl := tokenOptions.TTL
		if ttl <= 0 {
			ttl = cfg.Server.TokenTTL
		}

		token, err := server.IssueToken([]byte(cfg.Server.SigningKey), tokenOptions.Subject, ttl)
		if err != nil {
			return err
		}

		fmt.Println(token)

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(Version)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
	tokenCmd.Flags().StringVar(
		&tokenOptions.Subject,
		"subject",
		"placelookup",
		"Subject of the token",
	)
	tokenCmd.Flags().DurationVar(
		&tokenOptions.TTL,
		"ttl",
		0,
		"Validity of the token. Defaults to the configured server.token_ttl",
	)
}
