// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit records finished query runs to a time-series store for
// offline quality analysis.
//
// # Description
//
// Every completed run, successful or not, becomes one measurement point:
// tags identify the outcome, fields carry the cycle and evidence counts.
// The sink is optional; when InfluxDB is not configured the orchestrator
// runs without it.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/executor"
)

// runMeasurement is the InfluxDB measurement name for query runs.
const runMeasurement = "query_runs"

// writeTimeout bounds each point write so a slow InfluxDB cannot pile up
// goroutines.
const writeTimeout = 5 * time.Second

// InfluxSink writes run records to InfluxDB.
//
// # Thread Safety
//
// Safe for concurrent use; the blocking write API serializes internally.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

var _ executor.Recorder = (*InfluxSink)(nil)

// NewInfluxSinkFromEnv builds a sink from INFLUXDB_URL, INFLUXDB_TOKEN,
// INFLUXDB_ORG, and INFLUXDB_BUCKET. A missing URL means the sink is not
// configured; the caller should run without one.
func NewInfluxSinkFromEnv() (*InfluxSink, error) {
	url := os.Getenv("INFLUXDB_URL")
	if url == "" {
		return nil, errors.New("INFLUXDB_URL is not set")
	}
	token := os.Getenv("INFLUXDB_TOKEN")

	org := os.Getenv("INFLUXDB_ORG")
	if org == "" {
		org = "aleutian"
	}
	bucket := os.Getenv("INFLUXDB_BUCKET")
	if bucket == "" {
		bucket = "query-audit"
	}

	client := influxdb2.NewClient(url, token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}, nil
}

// Close shuts down the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

// RecordRun writes one run record. Failures are logged, never propagated:
// audit must not fail a request that already finished.
func (s *InfluxSink) RecordRun(record executor.RunRecord) {
	status := "success"
	errorCode := "none"
	if !record.Success {
		status = "error"
		errorCode = string(record.ErrorCode)
	}

	p := influxdb2.NewPointWithMeasurement(runMeasurement).
		AddTag("status", status).
		AddTag("error_code", errorCode).
		AddField("request_id", record.RequestId).
		AddField("session_id", record.SessionId).
		AddField("cycles", record.Cycles).
		AddField("duration_ms", record.Duration.Milliseconds()).
		AddField("evidence_count", record.Evidence).
		AddField("citation_count", record.Citations).
		SetTime(time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		slog.Warn("Failed to write audit point",
			"request_id", record.RequestId, "error", err)
	}
}
