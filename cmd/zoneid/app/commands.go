// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the zoneid command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zoneauth/zoneid/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "zoneid",
	DisableAutoGenTag: true,
	Short:             "zoneid is a lightweight OAuth2/OIDC identity server",
	Long: `zoneid is a lightweight OAuth2/OIDC identity server.

It issues signed access and ID tokens for the client credentials,
authorization code and refresh token grants, publishes OIDC discovery and
JWKS documents, and validates bearer tokens for protected APIs.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the zoneid CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "zoneid.yaml", "Path to configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true

	return rootCmd
}
