// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zoneauth/zoneid/pkg/config"
	"github.com/zoneauth/zoneid/pkg/logger"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate the configuration file for syntax and semantic errors:
unknown scopes on clients, confidential clients without secrets, code-flow
clients without redirect URIs, and duplicate registrations.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			path := viper.GetString("config")

			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("configuration loading failed: %w", err)
			}

			reg, err := cfg.BuildRegistry()
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			snap := reg.Snapshot()
			logger.Infof("Configuration is valid")
			logger.Infof("  Issuer:  %s", cfg.Issuer)
			logger.Infof("  Scopes:  %v", snap.ScopeNames())
			logger.Infof("  Clients: %d", len(cfg.Clients))
			return nil
		},
	}
}
