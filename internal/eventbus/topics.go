// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package eventbus

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/vigia-news/vigia/internal/models"
)

// Topics carried by the bus. Every payload on a topic is exactly one event
// type; consumers decode with the matching Decode helper.
const (
	// TopicStageCompleted carries StageEvent payloads, one per finished
	// pipeline stage pass.
	TopicStageCompleted = "pipeline.stage.completed"

	// TopicCatalogue carries CatalogueEvent payloads, one per mutation of
	// the canonical incident catalogue.
	TopicCatalogue = "catalogue.changed"
)

// Event is any payload that can ride the bus. The event's own ID becomes
// the watermill message UUID so a payload stays traceable end to end.
type Event interface {
	ID() string
	Topic() string
	Validate() error
}

// StageEvent announces that one pipeline stage finished a pass. Consumers
// use Processed to decide whether the pass produced work for the next
// stage; a zero-processed pass is a no-op tick.
type StageEvent struct {
	EventID    string    `json:"event_id"`
	Stage      string    `json:"stage"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewStageEvent builds a StageEvent from a stage run summary.
func NewStageEvent(result models.StageRunResult) *StageEvent {
	return &StageEvent{
		EventID:    uuid.New().String(),
		Stage:      result.Stage,
		Processed:  result.Processed,
		Succeeded:  result.Succeeded,
		Failed:     result.Failed,
		FinishedAt: time.Now().UTC(),
	}
}

// ID returns the event's unique identifier.
func (e *StageEvent) ID() string { return e.EventID }

// Topic returns the bus topic for stage completions.
func (e *StageEvent) Topic() string { return TopicStageCompleted }

// Validate checks required fields.
func (e *StageEvent) Validate() error {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	if e.Stage == "" {
		return &ValidationError{Field: "stage", Message: "required"}
	}
	if e.Processed < 0 {
		return &ValidationError{Field: "processed", Message: "must not be negative"}
	}
	return nil
}

// CatalogueKind says what happened to a catalogue entry.
type CatalogueKind string

const (
	// CatalogueCreated means a new incident was opened from a raw event.
	CatalogueCreated CatalogueKind = "created"
	// CatalogueLinked means a raw event joined an existing incident.
	CatalogueLinked CatalogueKind = "linked"
	// CatalogueMerged means two incidents were folded into one.
	CatalogueMerged CatalogueKind = "merged"
	// CatalogueEnriched means an incident's synthesis was refreshed.
	CatalogueEnriched CatalogueKind = "enriched"
)

// CatalogueEvent announces a change to the canonical incident catalogue.
// It carries enough of the incident for a live feed to render a headline
// without a follow-up query; MergedFromID is set only for merges and names
// the incident that was absorbed.
type CatalogueEvent struct {
	EventID       string        `json:"event_id"`
	Kind          CatalogueKind `json:"kind"`
	UniqueEventID int64         `json:"unique_event_id"`
	MergedFromID  *int64        `json:"merged_from_id,omitempty"`
	Title         string        `json:"title,omitempty"`
	City          *string       `json:"city,omitempty"`
	State         *string       `json:"state,omitempty"`
	EventDate     *time.Time    `json:"event_date,omitempty"`
	VictimCount   int           `json:"victim_count"`
	SourceCount   int           `json:"source_count"`
	Timestamp     time.Time     `json:"timestamp"`
}

// NewCatalogueEvent builds a CatalogueEvent snapshot of an incident.
func NewCatalogueEvent(kind CatalogueKind, incident *models.UniqueEvent) *CatalogueEvent {
	return &CatalogueEvent{
		EventID:       uuid.New().String(),
		Kind:          kind,
		UniqueEventID: incident.ID,
		Title:         incident.Title,
		City:          incident.City,
		State:         incident.State,
		EventDate:     incident.EventDate,
		VictimCount:   incident.VictimCount,
		SourceCount:   incident.SourceCount,
		Timestamp:     time.Now().UTC(),
	}
}

// ID returns the event's unique identifier.
func (e *CatalogueEvent) ID() string { return e.EventID }

// Topic returns the bus topic for catalogue changes.
func (e *CatalogueEvent) Topic() string { return TopicCatalogue }

// Validate checks required fields.
func (e *CatalogueEvent) Validate() error {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	switch e.Kind {
	case CatalogueCreated, CatalogueLinked, CatalogueMerged, CatalogueEnriched:
	default:
		return &ValidationError{Field: "kind", Message: "unknown kind " + string(e.Kind)}
	}
	if e.UniqueEventID <= 0 {
		return &ValidationError{Field: "unique_event_id", Message: "required"}
	}
	if e.Kind == CatalogueMerged && e.MergedFromID == nil {
		return &ValidationError{Field: "merged_from_id", Message: "required for merged events"}
	}
	return nil
}

// Serialize validates the event and renders its JSON payload.
func Serialize(event Event) ([]byte, error) {
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("validate event: %w", err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// DecodeStageEvent parses a payload published on TopicStageCompleted.
func DecodeStageEvent(payload []byte) (*StageEvent, error) {
	var event StageEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("unmarshal stage event: %w", err)
	}
	return &event, nil
}

// DecodeCatalogueEvent parses a payload published on TopicCatalogue.
func DecodeCatalogueEvent(payload []byte) (*CatalogueEvent, error) {
	var event CatalogueEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("unmarshal catalogue event: %w", err)
	}
	return &event, nil
}

// ValidationError reports a missing or malformed event field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
