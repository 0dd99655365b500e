// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

// Package models defines the data structures shared across the Vigia pipeline.
// These models represent news sources, extracted raw events, deduplicated
// unique events, per-city feed statistics, and API response envelopes.
package models
