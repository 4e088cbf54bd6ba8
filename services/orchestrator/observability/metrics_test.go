// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitMetricsIsIdempotent(t *testing.T) {
	first := InitMetrics()
	second := InitMetrics()

	if first == nil {
		t.Fatal("InitMetrics returned nil")
	}
	if first != second {
		t.Error("InitMetrics must return the same instance on every call")
	}
	if DefaultMetrics != first {
		t.Error("DefaultMetrics must point at the initialized instance")
	}
}

func TestRecordRequest(t *testing.T) {
	m := InitMetrics()

	before := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("query_sync", "success"))
	m.RecordRequest(EndpointQuerySync, true)
	after := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("query_sync", "success"))

	if after != before+1 {
		t.Errorf("success counter went %v -> %v, want +1", before, after)
	}

	beforeErr := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("query_stream", "error"))
	m.RecordRequest(EndpointQueryStream, false)
	afterErr := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("query_stream", "error"))

	if afterErr != beforeErr+1 {
		t.Errorf("error counter went %v -> %v, want +1", beforeErr, afterErr)
	}
}

func TestReplanCountsRejectedVerdict(t *testing.T) {
	m := InitMetrics()

	rejectedBefore := testutil.ToFloat64(m.VerdictsTotal.WithLabelValues("rejected"))
	reasonBefore := testutil.ToFloat64(m.ReplansTotal.WithLabelValues("uncited_claim"))

	m.RecordReplan("uncited_claim")

	if got := testutil.ToFloat64(m.ReplansTotal.WithLabelValues("uncited_claim")); got != reasonBefore+1 {
		t.Errorf("replan counter went %v -> %v, want +1", reasonBefore, got)
	}
	if got := testutil.ToFloat64(m.VerdictsTotal.WithLabelValues("rejected")); got != rejectedBefore+1 {
		t.Errorf("rejected verdicts went %v -> %v, want +1", rejectedBefore, got)
	}
}

func TestActiveStreamsGauge(t *testing.T) {
	m := InitMetrics()
	gauge := m.ActiveStreams.WithLabelValues(string(EndpointQueryWS))

	base := testutil.ToFloat64(gauge)
	m.StreamStarted(EndpointQueryWS)
	m.StreamStarted(EndpointQueryWS)
	if got := testutil.ToFloat64(gauge); got != base+2 {
		t.Errorf("gauge = %v, want %v", got, base+2)
	}

	m.StreamEnded(EndpointQueryWS)
	m.StreamEnded(EndpointQueryWS)
	if got := testutil.ToFloat64(gauge); got != base {
		t.Errorf("gauge = %v, want %v after streams end", got, base)
	}
}

func TestErrorCodeLabels(t *testing.T) {
	m := InitMetrics()

	before := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("query_sync", "recursion-limit-exceeded"))
	m.RecordError(EndpointQuerySync, "recursion-limit-exceeded")
	after := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("query_sync", "recursion-limit-exceeded"))

	if after != before+1 {
		t.Errorf("error counter went %v -> %v, want +1", before, after)
	}
}

func TestStatusLabel(t *testing.T) {
	if statusLabel(true) != "success" || statusLabel(false) != "error" {
		t.Errorf("statusLabel mapping wrong: %q / %q", statusLabel(true), statusLabel(false))
	}
}
