// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the zoneid identity server CLI.
package main

import (
	"os"

	"github.com/zoneauth/zoneid/cmd/zoneid/app"
	"github.com/zoneauth/zoneid/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
