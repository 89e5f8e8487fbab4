// Package config defines the application configuration schema and loads it
// from environment variables and optional config files.
package config
