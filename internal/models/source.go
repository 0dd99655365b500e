// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package models

import (
	"fmt"
	"time"
)

// SourceStatus is the processing state of a Source within the pipeline.
//
// The string values are the on-disk representation and must not change;
// they are shared with the database schema and the stats endpoint.
type SourceStatus string

// Source lifecycle states. The *-ing states are claim markers: a row in one
// of them is owned by a worker right now and must not be picked up again
// except by the janitor sweep.
const (
	StatusReadyForClassification SourceStatus = "ready-for-classification"
	StatusClassifying            SourceStatus = "classifying"
	StatusDiscarded              SourceStatus = "discarded"
	StatusReadyForDownload       SourceStatus = "ready-for-download"
	StatusDownloading            SourceStatus = "downloading"
	StatusFailedInDownload       SourceStatus = "failed-in-download"
	StatusReadyForExtraction     SourceStatus = "ready-for-extraction"
	StatusExtracting             SourceStatus = "extracting"
	StatusFailedInExtraction     SourceStatus = "failed-in-extraction"
	StatusExtracted              SourceStatus = "extracted"
)

// AllSourceStatuses lists every defined status, in pipeline order.
// Used by the stats endpoint and by validation.
var AllSourceStatuses = []SourceStatus{
	StatusReadyForClassification,
	StatusClassifying,
	StatusDiscarded,
	StatusReadyForDownload,
	StatusDownloading,
	StatusFailedInDownload,
	StatusReadyForExtraction,
	StatusExtracting,
	StatusFailedInExtraction,
	StatusExtracted,
}

// sourceTransitions is the success DAG of the Source state machine.
// A transition not listed here is unreachable through Transition().
var sourceTransitions = map[SourceStatus][]SourceStatus{
	StatusReadyForClassification: {StatusClassifying},
	StatusClassifying:            {StatusDiscarded, StatusReadyForDownload, StatusReadyForClassification},
	StatusReadyForDownload:       {StatusDownloading},
	StatusDownloading:            {StatusFailedInDownload, StatusReadyForExtraction, StatusReadyForDownload},
	StatusReadyForExtraction:     {StatusExtracting},
	StatusExtracting:             {StatusFailedInExtraction, StatusExtracted, StatusReadyForExtraction},
}

// claimStates maps each input state to the claim state a worker moves it
// into while processing. Only input states appear as keys.
var claimStates = map[SourceStatus]SourceStatus{
	StatusReadyForClassification: StatusClassifying,
	StatusReadyForDownload:       StatusDownloading,
	StatusReadyForExtraction:     StatusExtracting,
}

// Valid reports whether s is one of the defined statuses.
func (s SourceStatus) Valid() bool {
	for _, known := range AllSourceStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a terminal state (no outgoing transitions).
// Failed states are terminal until a manual retry resets them.
func (s SourceStatus) Terminal() bool {
	switch s {
	case StatusDiscarded, StatusFailedInDownload, StatusFailedInExtraction, StatusExtracted:
		return true
	}
	return false
}

// Claiming reports whether s is a claim marker (*-ing) state.
func (s SourceStatus) Claiming() bool {
	switch s {
	case StatusClassifying, StatusDownloading, StatusExtracting:
		return true
	}
	return false
}

// ClaimState returns the claim marker for an input state.
// The second return is false when s is not a claimable input state.
func (s SourceStatus) ClaimState() (SourceStatus, bool) {
	claim, ok := claimStates[s]
	return claim, ok
}

// InputState returns the input state that a claim marker was claimed from.
// The second return is false when s is not a claim state.
func (s SourceStatus) InputState() (SourceStatus, bool) {
	for input, claim := range claimStates {
		if claim == s {
			return input, true
		}
	}
	return "", false
}

// CanTransition reports whether the state machine allows moving from s to next.
// The reverse edge from a claim state to its input state is included: it is
// the explicit release path used on retryable errors and by the janitor.
func (s SourceStatus) CanTransition(next SourceStatus) bool {
	for _, allowed := range sourceTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Transition validates and returns the next state, or an error naming the
// rejected edge. Store implementations call this before any status UPDATE so
// that unreachable transitions fail loudly instead of corrupting a row.
func (s SourceStatus) Transition(next SourceStatus) (SourceStatus, error) {
	if !next.Valid() {
		return s, fmt.Errorf("unknown source status %q", next)
	}
	if !s.CanTransition(next) {
		return s, fmt.Errorf("illegal source transition %q -> %q", s, next)
	}
	return next, nil
}

// ConfidenceTag is the classifier's self-reported confidence.
// Values are Portuguese to match the feed's language and the stored payloads.
type ConfidenceTag string

const (
	ConfidenceHigh   ConfidenceTag = "alta"
	ConfidenceMedium ConfidenceTag = "média"
	ConfidenceLow    ConfidenceTag = "baixa"
)

// Source is one row per unique feed entry. The feed-assigned ID is the
// idempotence boundary: re-ingesting the same entry is a silent no-op.
//
// Nullable columns are pointers: ResolvedURL and Content are nil until the
// downloader has run, the classification fields are nil until the classifier
// has run.
type Source struct {
	ID int64 `json:"id"`

	// Identity
	FeedID      string  `json:"feed_id"`                // feed-assigned opaque ID, globally unique
	FeedURL     string  `json:"feed_url"`               // aggregator (obfuscated) URL
	ResolvedURL *string `json:"resolved_url,omitempty"` // decoded publisher URL

	// Content
	Headline     string     `json:"headline"`
	Publisher    *string    `json:"publisher,omitempty"`
	PublisherURL *string    `json:"publisher_url,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	Content      *string    `json:"content,omitempty"` // main-body text from the downloader

	// Provenance
	Query     string    `json:"query"` // the search query that surfaced this entry
	FetchedAt time.Time `json:"fetched_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Pipeline state
	Status SourceStatus `json:"status"`

	// Classification result (nil until the classifier has run)
	IsViolentDeath *bool          `json:"is_violent_death,omitempty"`
	Confidence     *ConfidenceTag `json:"confidence,omitempty"`
	Reasoning      *string        `json:"reasoning,omitempty"`

	// ErrorMessage carries the terminal failure reason for failed-in-*
	// states. Empty for healthy rows.
	ErrorMessage *string `json:"error_message,omitempty"`
}
