// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDBQuery(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		table     string
		duration  time.Duration
		err       error
	}{
		{"successful SELECT", "SELECT", "sources", 10 * time.Millisecond, nil},
		{"successful INSERT", "INSERT", "raw_events", 5 * time.Millisecond, nil},
		{"failed query", "UPDATE", "unique_events", 100 * time.Millisecond, errors.New("constraint violation")},
		{
			"failed query with long error truncated to 50 chars",
			"DELETE", "city_stats", 50 * time.Millisecond,
			errors.New("this is a very long error message that exceeds fifty characters and should be truncated"),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			before := testutil.CollectAndCount(DBQueryDuration)
			RecordDBQuery(tc.operation, tc.table, tc.duration, tc.err)
			after := testutil.CollectAndCount(DBQueryDuration)
			if after < before {
				t.Errorf("DBQueryDuration series count went backwards: %d -> %d", before, after)
			}
		})
	}
}

func TestRecordStageRun(t *testing.T) {
	RecordStageRun("classify", 2*time.Second, 10, 2, nil)
	if got := testutil.ToFloat64(StageRunsTotal.WithLabelValues("classify", "success")); got < 1 {
		t.Errorf("StageRunsTotal success = %v, want >= 1", got)
	}
	if got := testutil.ToFloat64(StageItemsProcessed.WithLabelValues("classify", "success")); got < 10 {
		t.Errorf("StageItemsProcessed success = %v, want >= 10", got)
	}

	RecordStageRun("classify", time.Second, 0, 0, errors.New("boom"))
	if got := testutil.ToFloat64(StageRunsTotal.WithLabelValues("classify", "error")); got < 1 {
		t.Errorf("StageRunsTotal error = %v, want >= 1", got)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	RecordLLMRequest("extraction", "success", 3*time.Second)
	if got := testutil.ToFloat64(LLMRequestsTotal.WithLabelValues("extraction", "success")); got < 1 {
		t.Errorf("LLMRequestsTotal = %v, want >= 1", got)
	}

	RecordLLMUsage("extraction", 1200, 400)
	if got := testutil.ToFloat64(LLMTokensUsed.WithLabelValues("extraction", "prompt")); got < 1200 {
		t.Errorf("LLMTokensUsed prompt = %v, want >= 1200", got)
	}
}

func TestRecordFeedPoll(t *testing.T) {
	RecordFeedPoll("Fortaleza", 100, true, nil)
	if got := testutil.ToFloat64(FeedPollsTotal.WithLabelValues("Fortaleza", "success")); got < 1 {
		t.Errorf("FeedPollsTotal = %v, want >= 1", got)
	}
	if got := testutil.ToFloat64(FeedResultLimitHits.WithLabelValues("Fortaleza")); got < 1 {
		t.Errorf("FeedResultLimitHits = %v, want >= 1", got)
	}

	RecordFeedPoll("Sobral", 0, false, errors.New("http 503"))
	if got := testutil.ToFloat64(FeedPollsTotal.WithLabelValues("Sobral", "error")); got < 1 {
		t.Errorf("FeedPollsTotal error = %v, want >= 1", got)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	base := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	if got := testutil.ToFloat64(APIActiveRequests); got != base+1 {
		t.Errorf("APIActiveRequests = %v, want %v", got, base+1)
	}
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != base {
		t.Errorf("APIActiveRequests = %v, want %v", got, base)
	}
}
