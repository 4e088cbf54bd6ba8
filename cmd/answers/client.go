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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
)

// apiClient wraps HTTP access to the orchestrator.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(serverURL, "/"),
		apiKey:  apiKey,
		// No overall timeout: streamed answers hold the connection open
		// for as long as synthesis runs.
		http: &http.Client{},
	}
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// doJSON performs a request and decodes a JSON response into out.
// Non-2xx responses are returned as errors carrying the server's
// error_code and message when present.
func (c *apiClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	var apiErr datatypes.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("%s (%s, http %d)", apiErr.Message, apiErr.ErrorCode, resp.StatusCode)
	}
	return fmt.Errorf("server returned http %d", resp.StatusCode)
}

// streamQuery posts a streaming query and invokes handle for every
// event on the wire, in arrival order. It returns after the terminal
// event or when the stream breaks.
func (c *apiClient) streamQuery(ctx context.Context, q datatypes.QueryRequest,
	handle func(event datatypes.StreamEvent) error) error {
	q.Stream = true

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/query", q)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	return readEventStream(resp.Body, handle)
}

// readEventStream parses server-sent events off r. Comment lines
// (keep-alives) are ignored. The handler error aborts the read.
func readEventStream(r io.Reader, handle func(event datatypes.StreamEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var event datatypes.StreamEvent
			if err := json.Unmarshal([]byte(data.String()), &event); err != nil {
				return fmt.Errorf("malformed stream event: %w", err)
			}
			data.Reset()
			if err := handle(event); err != nil {
				return err
			}
			if event.Terminal() {
				return nil
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}
	return fmt.Errorf("stream ended without a terminal event")
}

// chainVerifier checks the tamper-evidence chain on the client side.
// Thinking events are outside the chain and must be skipped.
type chainVerifier struct {
	lastHash string
	broken   bool
}

func (v *chainVerifier) observe(event datatypes.StreamEvent) {
	if event.Type == datatypes.StreamEventThinking || v.broken {
		return
	}
	if event.PrevHash != v.lastHash {
		v.broken = true
		return
	}
	v.lastHash = event.Hash
}

func defaultTimeout() time.Duration {
	return 30 * time.Second
}
