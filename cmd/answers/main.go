// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command answers is the terminal client for the AleutianAnswers
// orchestrator.
//
// # Usage
//
//	answers ask "When does Project Alpha launch?"
//	answers ask --session 1234 --persona concise "And who owns it?"
//	answers status
//	answers sessions list
//	answers sessions history <id>
//	answers sessions delete <id>
//
// The server address comes from --server or ALEUTIAN_SERVER (default
// http://localhost:12210). The API key, if the server requires one,
// comes from --api-key or ALEUTIAN_API_KEY.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string

	rootCmd = &cobra.Command{
		Use:   "answers",
		Short: "A cli for asking grounded questions against your knowledge base",
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("ALEUTIAN_SERVER", "http://localhost:12210"),
		"Orchestrator base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key",
		os.Getenv("ALEUTIAN_API_KEY"),
		"Bearer token for the /v1 API")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsHistoryCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	askCmd.Flags().StringVar(&askSessionId, "session", "", "Continue an existing session")
	askCmd.Flags().StringVar(&askPersona, "persona", "", "Answer persona (technical, executive, general)")
	askCmd.Flags().BoolVar(&askShowThinking, "thinking", false, "Show intermediate reasoning status lines")
	askCmd.Flags().BoolVar(&askNoStream, "no-stream", false, "Wait for the full answer instead of streaming")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
