// SPDX-FileCopyrightText: Copyright 2025 Zoneid Authors
// SPDX-License-Identifier: Apache-2.0

package keys

// Config holds configuration for creating a Provider.
// The caller is responsible for populating this from their own config source
// (environment variables, YAML files, flags, etc.).
type Config struct {
	// KeyDir is the directory containing PEM-encoded private key files.
	// All key filenames are relative to this directory.
	KeyDir string `mapstructure:"key_dir"`

	// SigningKeyFile is the filename of the primary signing key (relative to
	// KeyDir). This key is used for signing new tokens.
	// If empty with KeyDir set, NewProviderFromConfig returns an error.
	// If both KeyDir and SigningKeyFile are empty, an ephemeral key is generated.
	SigningKeyFile string `mapstructure:"signing_key_file"`

	// FallbackKeyFiles are filenames of additional keys for verification
	// (relative to KeyDir). These keys are included in the JWKS endpoint but
	// are NOT used for signing new tokens.
	//
	// Key rotation: update SigningKeyFile to the new key and move the old
	// filename here. Tokens signed with old keys remain verifiable until
	// they expire.
	FallbackKeyFiles []string `mapstructure:"fallback_key_files"`
}

// NewProviderFromConfig creates a Provider based on the configuration.
//
// Behavior:
//   - If KeyDir and SigningKeyFile are set: load keys from the directory
//   - If both are empty: return GeneratingProvider (ephemeral key, development)
//   - If KeyDir is set but SigningKeyFile is empty: returns an error
func NewProviderFromConfig(cfg Config) (Provider, error) {
	if cfg.KeyDir != "" {
		return NewFileProvider(cfg)
	}

	// Generate ephemeral key (development only)
	return NewGeneratingProvider(DefaultAlgorithm), nil
}
