// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
)

var (
	askSessionId    string
	askPersona      string
	askShowThinking bool
	askNoStream     bool
)

const (
	ansiDim   = "\033[2m"
	ansiReset = "\033[0m"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question grounded in the indexed knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the knowledge base has indexed content",
	RunE:  runStatus,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage conversation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known sessions, newest first",
	RunE:  runSessionsList,
}

var sessionsHistoryCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Print the message history of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsHistory,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete [session-id]",
	Short: "Delete a session and its stored history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	client := newAPIClient()

	query := datatypes.QueryRequest{
		Text:      question,
		Persona:   askPersona,
		SessionId: askSessionId,
	}

	if askNoStream {
		return askSync(client, query)
	}
	return askStreaming(client, query)
}

func askSync(client *apiClient, query datatypes.QueryRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*defaultTimeout())
	defer cancel()

	var resp datatypes.QueryResponse
	if err := client.doJSON(ctx, http.MethodPost, "/v1/query", query, &resp); err != nil {
		return err
	}

	fmt.Println(resp.Answer.Content)
	printCitations(resp.Answer.Citations)
	fmt.Fprintf(os.Stderr, "\nsession: %s  (%dms)\n", resp.SessionId, resp.ProcessingTimeMs)
	return nil
}

func askStreaming(client *apiClient, query datatypes.QueryRequest) error {
	tty := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	var (
		chain     chainVerifier
		citations []datatypes.SourceCitation
		sessionId string
		failure   *datatypes.AgentFailure
	)

	err := client.streamQuery(context.Background(), query, func(event datatypes.StreamEvent) error {
		chain.observe(event)

		switch event.Type {
		case datatypes.StreamEventThinking:
			if askShowThinking {
				if tty {
					fmt.Fprintf(os.Stderr, "%s.. %s%s\n", ansiDim, event.Content, ansiReset)
				} else {
					fmt.Fprintf(os.Stderr, ".. %s\n", event.Content)
				}
			}
		case datatypes.StreamEventSources:
			citations = event.Citations
		case datatypes.StreamEventToken:
			fmt.Print(event.Content)
		case datatypes.StreamEventComplete:
			sessionId = event.SessionId
			fmt.Println()
		case datatypes.StreamEventError:
			sessionId = event.SessionId
			failure = event.Failure
		}
		return nil
	})
	if err != nil {
		return err
	}

	if failure != nil {
		return fmt.Errorf("%s (%s)", failure.Message, failure.ErrorCode)
	}

	printCitations(citations)
	if chain.broken {
		fmt.Fprintln(os.Stderr, "warning: event hash chain did not verify; the stream may be incomplete")
	}
	if sessionId != "" {
		fmt.Fprintf(os.Stderr, "\nsession: %s\n", sessionId)
	}
	return nil
}

func printCitations(citations []datatypes.SourceCitation) {
	if len(citations) == 0 {
		return
	}
	fmt.Println("\nSources:")
	for i, c := range citations {
		ref := c.SourceId
		if c.Url != "" {
			ref = c.Url
		}
		fmt.Printf("  [%d] %s: %q\n", i+1, ref, c.TextSnippet)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout())
	defer cancel()

	var status datatypes.IndexStatusResponse
	if err := newAPIClient().doJSON(ctx, http.MethodGet, "/v1/index/status", nil, &status); err != nil {
		return err
	}

	if status.HasContent {
		fmt.Printf("Knowledge base ready: %d chunks indexed in %s\n",
			status.ChunkCount, status.ClassName)
	} else {
		fmt.Println("Knowledge base is empty. Ingest documents before asking questions.")
	}
	return nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout())
	defer cancel()

	var resp struct {
		Sessions []datatypes.SessionSummary `json:"sessions"`
	}
	if err := newAPIClient().doJSON(ctx, http.MethodGet, "/v1/sessions", nil, &resp); err != nil {
		return err
	}

	if len(resp.Sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	for _, s := range resp.Sessions {
		fmt.Printf("%s  %3d messages  updated %s\n",
			s.SessionId, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runSessionsHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout())
	defer cancel()

	var resp datatypes.SessionHistoryResponse
	path := "/v1/sessions/" + args[0] + "/history"
	if err := newAPIClient().doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return err
	}

	for _, msg := range resp.History {
		fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout())
	defer cancel()

	path := "/v1/sessions/" + args[0]
	if err := newAPIClient().doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s\n", args[0])
	return nil
}
