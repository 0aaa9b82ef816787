// Package config handles configuration loading for zap-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. The package provides validation and sensible defaults, plus a
// pure-environment fallback for deployments that ship no config file.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ZAP_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/zap-gateway/gateway.yaml
//  3. ~/.config/zap-gateway/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	admin:
//	  wipe_secret: "${ZAP_WIPE_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Environment Overrides
//
// Three operational variables override their file counterparts when set:
// ZAP_GATEWAY_PORT, ZAP_ALLOWED_IPS (comma-separated), and ZAP_WIPE_SECRET.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	dispatch:
//	  send_timeout: "20s"
//	  send_delay: "5s"
//	  ready_delay: "5s"
package config
