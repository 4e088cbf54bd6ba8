// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
)

// sleeper lets tests replace real waiting with instant, recorded waits.
type sleeper func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay computes the wait before retry number attempt (1-based):
// base doubled per attempt, plus up to 50% random jitter so concurrent
// retries do not stampede.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}

// callWithRetry runs op under the step timeout, retrying once on a
// recoverable failure.
//
// # Description
//
// Implements the closed retry policy: a failure with Recoverable=true earns
// exactly maxRetries additional attempts (with exponential backoff and
// jitter); a non-recoverable failure returns immediately. Whatever error
// remains after the last attempt is normalized to an AgentFailure
// attributed to originId.
func (e *Executor) callWithRetry(ctx context.Context, originId string, op func(ctx context.Context) error) *datatypes.AgentFailure {
	attempts := e.cfg.MaxRetries + 1
	var failure *datatypes.AgentFailure

	for attempt := 1; attempt <= attempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
		err := op(stepCtx)
		cancel()

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// The request itself was cancelled; report the timeout/cancel
			// rather than retrying into a dead context.
			return datatypes.FailureFromError(originId, ctx.Err())
		}

		failure = datatypes.FailureFromError(originId, err)
		if !failure.Recoverable || attempt == attempts {
			return failure
		}

		delay := backoffDelay(e.cfg.RetryBaseDelay, attempt)
		slog.Warn("Recoverable step failure, backing off before retry",
			"origin", originId,
			"error_code", failure.ErrorCode,
			"attempt", attempt,
			"delay", delay)
		if err := e.sleep(ctx, delay); err != nil {
			return datatypes.FailureFromError(originId, err)
		}
	}
	return failure
}
