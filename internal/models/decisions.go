// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package models

import (
	"fmt"
	"time"
)

// Classification is the headline triage verdict. A negative verdict stops
// the source from ever being downloaded.
type Classification struct {
	IsViolentDeath bool          `json:"is_violent_death"`
	Confidence     ConfidenceTag `json:"confidence" jsonschema:"enum=alta,enum=média,enum=baixa"`
	Reasoning      string        `json:"reasoning"`
}

// Validate checks the verdict against the fixed confidence vocabulary.
func (c *Classification) Validate() error {
	switch c.Confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		return fmt.Errorf("unknown confidence %q", c.Confidence)
	}
	if c.Reasoning == "" {
		return fmt.Errorf("empty reasoning")
	}
	return nil
}

// MatchResult is the dedup match verdict: does a new raw event describe the
// same incident as one of the candidate unique events shown to the model?
type MatchResult struct {
	Match      bool    `json:"match"`
	IncidentID *int64  `json:"incident_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Validate rejects structurally inconsistent verdicts. Candidate-set
// membership of IncidentID is checked by the caller, which knows the set.
func (m *MatchResult) Validate() error {
	if m.Match && m.IncidentID == nil {
		return fmt.Errorf("match=true without incident_id")
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", m.Confidence)
	}
	return nil
}

// ClusterResult partitions a numbered list of raw events into groups that
// each describe one incident. Indexes are 1-based positions in the list as
// presented to the model.
type ClusterResult struct {
	Clusters  [][]int `json:"clusters"`
	Reasoning string  `json:"reasoning"`
}

// Validate checks that the clusters form an exact partition of 1..n.
// Any missing, duplicated, or out-of-range index invalidates the whole
// result; the caller falls back to singleton clusters.
func (c *ClusterResult) Validate(n int) error {
	seen := make(map[int]bool, n)
	for _, cluster := range c.Clusters {
		if len(cluster) == 0 {
			return fmt.Errorf("empty cluster")
		}
		for _, idx := range cluster {
			if idx < 1 || idx > n {
				return fmt.Errorf("index %d outside 1..%d", idx, n)
			}
			if seen[idx] {
				return fmt.Errorf("index %d appears twice", idx)
			}
			seen[idx] = true
		}
	}
	if len(seen) != n {
		return fmt.Errorf("partition covers %d of %d events", len(seen), n)
	}
	return nil
}

// EnrichmentResult is the canonical consolidated record the enrichment model
// produces from all raw events attached to a unique event. Optional fields
// are non-omitempty pointers: the model must emit explicit nulls, and a null
// overwrites the canonical value (the union of sources no longer supports it).
type EnrichmentResult struct {
	Title                      string  `json:"title"`
	Description                string  `json:"description"`
	HomicideType               string  `json:"homicide_type" jsonschema:"enum=Homicídio,enum=Feminicídio,enum=Latrocínio,enum=Infanticídio,enum=Intervenção policial,enum=Chacina,enum=Morte a esclarecer"`
	Method                     *string `json:"method"`
	EventDate                  *string `json:"event_date"` // "YYYY-MM-DD" or null
	DatePrecision              *string `json:"date_precision" jsonschema:"enum=exata,enum=parcial,enum=não informada"`
	TimeOfDay                  *string `json:"time_of_day" jsonschema:"enum=madrugada,enum=manhã,enum=tarde,enum=noite"`
	Country                    *string `json:"country"`
	State                      *string `json:"state"`
	City                       *string `json:"city"`
	Neighborhood               *string `json:"neighborhood"`
	Street                     *string `json:"street"`
	Establishment              *string `json:"establishment"`
	LocationDescription        *string `json:"location_description"`
	VictimCount                int     `json:"victim_count"`
	IdentifiedVictimCount      int     `json:"identified_victim_count"`
	VictimSummary              *string `json:"victim_summary"`
	PerpetratorCount           *int    `json:"perpetrator_count"`
	IdentifiedPerpetratorCount *int    `json:"identified_perpetrator_count"`
	SecurityForceInvolved      bool    `json:"security_force_involved"`
	AdditionalContext          *string `json:"additional_context"`
	Reasoning                  string  `json:"reasoning"`
}

// EventDateTime converts the model's "YYYY-MM-DD" event date to a UTC
// midnight timestamp. Returns nil when the date is absent or malformed;
// dates the model cannot pin down stay null rather than guessed.
func (e *EnrichmentResult) EventDateTime() *time.Time {
	if e.EventDate == nil {
		return nil
	}
	t, err := time.ParseInLocation("2006-01-02", *e.EventDate, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

// Validate checks field-level invariants of the consolidated record.
func (e *EnrichmentResult) Validate() error {
	if e.Title == "" {
		return fmt.Errorf("empty title")
	}
	if e.VictimCount < 0 {
		return fmt.Errorf("negative victim count %d", e.VictimCount)
	}
	if e.VictimCount < e.IdentifiedVictimCount {
		return fmt.Errorf("total victims %d below identified victims %d",
			e.VictimCount, e.IdentifiedVictimCount)
	}
	return nil
}
