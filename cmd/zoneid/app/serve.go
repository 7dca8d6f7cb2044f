// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/zoneauth/zoneid/pkg/auth"
	"github.com/zoneauth/zoneid/pkg/config"
	"github.com/zoneauth/zoneid/pkg/grants"
	"github.com/zoneauth/zoneid/pkg/issuer"
	"github.com/zoneauth/zoneid/pkg/keys"
	"github.com/zoneauth/zoneid/pkg/logger"
	"github.com/zoneauth/zoneid/pkg/server"
	"github.com/zoneauth/zoneid/pkg/sessions"
	"github.com/zoneauth/zoneid/pkg/storage"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the identity server",
		Long: `Start the identity server.

The server reads the configuration file given by --config, loads or generates
its signing keys, and serves the discovery, JWKS, authorize, token and
userinfo endpoints until interrupted.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return err
	}

	reg, err := cfg.BuildRegistry()
	if err != nil {
		return fmt.Errorf("building client registry: %w", err)
	}

	keyProvider, err := keys.NewProviderFromConfig(cfg.Keys)
	if err != nil {
		return fmt.Errorf("loading signing keys: %w", err)
	}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening token store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("Error closing token store: %v", err)
		}
	}()

	userStore, err := cfg.BuildUserStore()
	if err != nil {
		return fmt.Errorf("building user store: %w", err)
	}

	tokenIssuer := issuer.New(cfg.Issuer, keyProvider)

	var processorOpts []grants.Option
	if !cfg.RotationEnabled() {
		processorOpts = append(processorOpts, grants.WithoutRefreshTokenRotation())
	}
	processor := grants.NewProcessor(reg, tokenIssuer, store, userStore, processorOpts...)

	validator := auth.NewValidator(auth.NewLocalKeySource(keyProvider), cfg.Issuer)

	srv := server.New(
		cfg.Issuer,
		reg,
		processor,
		keyProvider,
		validator,
		userStore,
		sessions.NewMemoryStore(),
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(ctx, cfg.ListenAddr)
	})

	return group.Wait()
}
