// Package configs embeds the configuration templates written by
// `sopfusion init` and `sopfusion config init`.
//
// Configuration precedence (see internal/config Load):
//  1. Defaults (config.NewConfig)
//  2. User config (~/.config/sopfusion/config.yaml)
//  3. Project config (.sopfusion.yaml)
//  4. Environment variables (SOPFUSION_*)
package configs

import _ "embed"

// UserConfigTemplate holds machine-level settings: Ollama hosts, models and
// the log level.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate holds corpus location, retrieval tuning and case
// matching for one project.
//
//go:embed sopfusion.example.yaml
var ProjectConfigTemplate string
