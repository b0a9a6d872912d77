// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command gateway starts the StellarServe chat gateway.
//
// The gateway exposes an OpenAI-compatible chat API in front of a
// local language model runner, with session persistence and API key
// gating.
//
// # Usage
//
//	# Start the server
//	gateway serve --config gateway.yaml
//
//	# Manage API keys (run while the server is stopped; the
//	# database is locked by a running server)
//	gateway apikey create --name ci-pipeline
//	gateway apikey list
//	gateway apikey revoke <key-id>
//
// # Environment Variables
//
//   - STELLAR_PORT: HTTP server port (default: 8080)
//   - STELLAR_RUNNER_URL: model runner base URL (default: http://localhost:8000)
//   - STELLAR_DATA_PATH: BadgerDB directory (default: ./data/gateway)
//   - STELLAR_AUTH_ENABLED: require API keys (default: false)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "OpenAI-compatible chat gateway for a local language model",
	Long: `StellarServe fronts a local causal language model with an
OpenAI-compatible chat API: atomic and SSE-streamed completions, a
WebSocket streaming surface, persisted sessions, and API key gating.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		defaultConfigPath(), "path to the gateway config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(apikeyCmd)
	rootCmd.AddCommand(versionCmd)
}

func defaultConfigPath() string {
	if path := os.Getenv("STELLAR_CONFIG"); path != "" {
		return path
	}
	return "gateway.yaml"
}
