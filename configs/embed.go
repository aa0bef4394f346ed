// Package configs embeds the commented configuration template written by
// `amankb config init`.
//
// The template documents every setting with its default; all values except
// the version are commented out so the defaults in internal/config keep
// applying until a user opts in.
package configs

import _ "embed"

// UserConfigTemplate is written to the user config path on a fresh
// `amankb config init`. `config init --force` writes the merged settings
// instead.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
