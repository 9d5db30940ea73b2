// Package config embeds the default server configuration.
package config

import _ "embed"

// Default is the built-in configuration merged under conf.yaml.
//
//go:embed defaults.yaml
var Default []byte
