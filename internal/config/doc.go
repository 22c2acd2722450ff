// Package config provides configuration loading and validation for the
// voice agent service. It handles YAML-based configuration with per-section
// struct validation covering the HTTP server, both call transports, the
// assistant, and the speech providers.
package config
