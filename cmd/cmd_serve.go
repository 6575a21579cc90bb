// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/jcodagnone/placelookup/server"
	"github.com/spf13/cobra"
)

var serveOptions = struct {
	Addr string
}{}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the lookup API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if serveOptions.Addr != "" {
			cfg.Server.Addr = serveOptions.Addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		provider, closeProvider, err := cfg.NewProvider(ctx)
		if err != nil {
			return err
		}
		defer closeProvider()

		locator, stopLocation, err := startLocation(ctx, cfg)
		if err != nil {
			return err
		}
		defer stopLocation()

		srv := server.NewServer(locator, provider, server.Options{
			Session:     cfg.SessionOptions(),
			SigningKey:  []byte(cfg.Server.SigningKey),
			SessionIdle: cfg.Server.SessionIdle,
		})

		return srv.Run(ctx, cfg.Server.Addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(
		&serveOptions.Addr,
		"addr",
		"",
		"Listen address. Defaults to the configured server.addr",
	)
}
