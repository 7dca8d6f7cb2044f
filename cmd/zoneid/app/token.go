// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zoneauth/zoneid/pkg/client"
)

func newTokenCmd() *cobra.Command {
	var (
		issuerURL    string
		clientID     string
		clientSecret string
		scopes       string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Request an access token using the client credentials flow",
		Long: `Request an access token from a running identity server using the
client credentials flow and print it to stdout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agent, err := client.Discover(cmd.Context(), client.Config{
				IssuerURL:    issuerURL,
				ClientID:     clientID,
				ClientSecret: clientSecret,
				Scopes:       strings.Fields(scopes),
			})
			if err != nil {
				return err
			}

			token, err := agent.Token(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token.AccessToken)
			return nil
		},
	}

	cmd.Flags().StringVar(&issuerURL, "issuer", "http://localhost:5001", "Identity server issuer URL")
	cmd.Flags().StringVar(&clientID, "client-id", "", "Client ID")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "Client secret")
	cmd.Flags().StringVar(&scopes, "scopes", "", "Space-separated scopes to request")
	_ = cmd.MarkFlagRequired("client-id")

	return cmd
}
