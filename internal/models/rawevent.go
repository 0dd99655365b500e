// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package models

import "time"

// DedupState tracks where a RawEvent sits in the deduplication flow.
type DedupState string

const (
	// DedupPending means the raw event has not been linked to a unique
	// event yet. Raw events without an event date stay pending forever.
	DedupPending DedupState = "pending"

	// DedupMatched means Phase 1a linked the raw event to an existing
	// unique event.
	DedupMatched DedupState = "matched"

	// DedupClustered means Phase 1b created (or reused within its group)
	// a new unique event for the raw event.
	DedupClustered DedupState = "clustered"
)

// Valid reports whether d is one of the defined dedup states.
func (d DedupState) Valid() bool {
	switch d {
	case DedupPending, DedupMatched, DedupClustered:
		return true
	}
	return false
}

// DatePrecision values mirror the extraction schema's Portuguese tags.
const (
	DatePrecisionExact   = "exata"
	DatePrecisionPartial = "parcial"
	DatePrecisionUnknown = "não informada"
)

// RawEvent is one structured extraction from one Source (1:1 with its
// parent). Several RawEvents may describe the same real-world incident;
// the deduplicator links them to a single UniqueEvent.
//
// The denormalized columns exist for cheap blocking queries (date window,
// city bucket); ExtractionData holds the full payload and stays authoritative.
//
// Invariants:
//   - SourceID is never zero.
//   - UniqueEventID is nil iff DedupState == DedupPending.
type RawEvent struct {
	ID            int64      `json:"id"`
	SourceID      int64      `json:"source_id"`
	UniqueEventID *int64     `json:"unique_event_id,omitempty"`
	DedupState    DedupState `json:"dedup_state"`

	// IsGoldStandard marks hand-annotated rows that must never be
	// overwritten by re-extraction or enrichment.
	IsGoldStandard bool `json:"is_gold_standard"`

	// Denormalized query columns
	EventDate             *time.Time `json:"event_date,omitempty"` // date component only, UTC midnight
	DatePrecision         *string    `json:"date_precision,omitempty"`
	TimeOfDay             *string    `json:"time_of_day,omitempty"`
	City                  *string    `json:"city,omitempty"`
	State                 *string    `json:"state,omitempty"`
	Neighborhood          *string    `json:"neighborhood,omitempty"`
	VictimCount           int        `json:"victim_count"`
	IdentifiedVictimCount int        `json:"identified_victim_count"`
	PerpetratorCount      *int       `json:"perpetrator_count,omitempty"`
	SecurityForceInvolved bool       `json:"security_force_involved"`
	HomicideType          *string    `json:"homicide_type,omitempty"`
	Method                *string    `json:"method,omitempty"`
	Title                 string     `json:"title"`
	Description           string     `json:"description"`

	// Full structured payload as returned by the extraction model.
	ExtractionData *Extraction `json:"extraction_data,omitempty"`

	// Provenance
	ExtractionModel   string  `json:"extraction_model"`
	ExtractionSuccess bool    `json:"extraction_success"`
	ExtractionError   *string `json:"extraction_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Deduplicatable reports whether the raw event can enter the dedup flow:
// it must still be pending and carry an event date for blocking.
func (r *RawEvent) Deduplicatable() bool {
	return r.DedupState == DedupPending && r.EventDate != nil
}
