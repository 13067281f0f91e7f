// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package edits

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/editkit/services/edits/consistency"
	"github.com/AleutianAI/editkit/services/edits/diff"
	"github.com/AleutianAI/editkit/services/edits/lock"
)

// Package-level tracer and meter for edit operations.
var (
	tracer = otel.Tracer("editkit.edits")
	meter  = otel.Meter("editkit.edits")
)

// Metrics for edit operations.
var (
	applyTotal        metric.Int64Counter
	applyDuration     metric.Float64Histogram
	changesApplied    metric.Int64Counter
	consistencyIssues metric.Int64Counter
	planTotal         metric.Int64Counter
	patchHunks        metric.Int64Counter
	externalChanges   metric.Int64Counter

	metricsOnce    sync.Once
	metricsErr     error
	metricsEnabled atomic.Bool
)

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled turns metric recording on or off for the package.
//
// Spans are unaffected.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		applyTotal, err = meter.Int64Counter(
			"edits_apply_total",
			metric.WithDescription("Total apply operations by status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		applyDuration, err = meter.Float64Histogram(
			"edits_apply_duration_seconds",
			metric.WithDescription("Duration of apply operations including commit"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		changesApplied, err = meter.Int64Counter(
			"edits_changes_applied",
			metric.WithDescription("Total proposed changes applied"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		consistencyIssues, err = meter.Int64Counter(
			"edits_consistency_issues_total",
			metric.WithDescription("Consistency issues found, by code"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		planTotal, err = meter.Int64Counter(
			"edits_plan_total",
			metric.WithDescription("Planning cycles by terminal status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		patchHunks, err = meter.Int64Counter(
			"edits_patch_hunks_total",
			metric.WithDescription("Raw patch hunks by placement outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		externalChanges, err = meter.Int64Counter(
			"edits_external_changes_total",
			metric.WithDescription("External modifications of tracked files, by type"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recording() bool {
	return metricsEnabled.Load() && initMetrics() == nil
}

// startSpan creates a span for an edit operation on one file.
func startSpan(ctx context.Context, name, uri string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("edits.uri", uri),
	))
}

// recordApply records the outcome of one Service.Apply or Revert.
func recordApply(ctx context.Context, status string, duration time.Duration, applied int) {
	if !recording() {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	applyTotal.Add(ctx, 1, attrs)
	applyDuration.Record(ctx, duration.Seconds(), attrs)
	if applied > 0 {
		changesApplied.Add(ctx, int64(applied))
	}
}

// recordIssues counts issues by code. Issues without a code count as "advisory".
func recordIssues(ctx context.Context, issues []consistency.Issue) {
	if len(issues) == 0 || !recording() {
		return
	}
	for _, is := range issues {
		code := string(is.Code)
		if code == "" {
			code = "advisory"
		}
		consistencyIssues.Add(ctx, 1, metric.WithAttributes(
			attribute.String("code", code),
			attribute.String("severity", is.Severity.String()),
		))
	}
}

// recordPlan counts a finished planning cycle.
func recordPlan(ctx context.Context, status string) {
	if !recording() {
		return
	}
	planTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// recordHunks counts hunk placements of a raw patch apply.
func recordHunks(ctx context.Context, res *diff.ApplyResult) {
	if res == nil || !recording() {
		return
	}
	for _, h := range res.Hunks {
		patchHunks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(h.Outcome))))
	}
}

// recordHunkFailure counts a hunk that could not be placed.
func recordHunkFailure(ctx context.Context, kind diff.ApplyKind) {
	if !recording() {
		return
	}
	patchHunks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(kind))))
}

// recordExternalChange counts a drift event on a tracked file.
func recordExternalChange(ctx context.Context, ev lock.ExternalChangeEvent) {
	if !recording() {
		return
	}
	externalChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("type", ev.Type.String())))
}
