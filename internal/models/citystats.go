// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package models

import "time"

// CityStats tracks feed result counts per ingested locality.
//
// The aggregator caps every query at a hard result limit. When a locality
// hits that cap twice, NeedsSharding flips on and subsequent polls split the
// query per publisher domain to get under the cap.
type CityStats struct {
	ID              int64     `json:"id"`
	City            string    `json:"city"` // locality name, unique
	LastResultCount int       `json:"last_result_count"`
	HitLimitCount   int       `json:"hit_limit_count"`
	NeedsSharding   bool      `json:"needs_sharding"`
	LastPolledAt    time.Time `json:"last_polled_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
