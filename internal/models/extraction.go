// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package models

import (
	"fmt"
	"time"
)

// DateSource values for the extraction schema's date_verification sub-object.
const (
	DateSourceExplicit = "explicit"
	DateSourceInferred = "inferred_from_publication"
	DateSourceNone     = "none"
)

// eventDateLayout is the wire format for event dates in LLM payloads.
const eventDateLayout = "2006-01-02"

// Extraction is the full structured payload produced by the extraction
// model for one article. It is stored verbatim (as JSON) on the RawEvent;
// the denormalized RawEvent columns are copies of a subset of these fields.
type Extraction struct {
	LocationInfo      LocationInfo     `json:"location_info"`
	DateTime          DateTimeInfo     `json:"date_time"`
	Victims           VictimInfo       `json:"victims"`
	Perpetrators      *PerpetratorInfo `json:"perpetrators,omitempty"`
	HomicideDynamic   HomicideDynamic  `json:"homicide_dynamic"`
	AdditionalContext *string          `json:"additional_context,omitempty"`
}

// LocationInfo carries every location granule the article names.
// All fields are optional: rural incidents often have no neighborhood,
// short wire reports often name only the city.
type LocationInfo struct {
	Neighborhood    *string `json:"neighborhood,omitempty"`
	Street          *string `json:"street,omitempty"`
	Establishment   *string `json:"establishment,omitempty"`
	City            *string `json:"city,omitempty"`
	State           *string `json:"state,omitempty"`
	Country         *string `json:"country,omitempty"`
	FullDescription *string `json:"full_description,omitempty"`
}

// DateVerification forces the model to declare how it established the event
// date before it is allowed to emit one. This is the schema-level defense
// against fabricated dates.
type DateVerification struct {
	HasExplicitDate         bool    `json:"has_explicit_date"`
	DateSource              string  `json:"date_source" jsonschema:"enum=explicit,enum=inferred_from_publication,enum=none"`
	DateTextQuote           *string `json:"date_text_quote,omitempty"`
	YearExplicitlyMentioned bool    `json:"year_explicitly_mentioned"`
	VerificationReasoning   string  `json:"verification_reasoning"`
}

// DateTimeInfo is the date_time sub-object of the extraction payload.
// Date is deliberately a non-omitempty pointer: the model must emit an
// explicit null when no date could be established.
type DateTimeInfo struct {
	DateVerification DateVerification `json:"date_verification"`
	Date             *string          `json:"date"` // "YYYY-MM-DD" or null
	DatePrecision    *string          `json:"date_precision,omitempty" jsonschema:"enum=exata,enum=parcial,enum=não informada"`
	Time             *string          `json:"time,omitempty"`
	TimeOfDay        *string          `json:"time_of_day,omitempty" jsonschema:"enum=madrugada,enum=manhã,enum=tarde,enum=noite"`
}

// Victim is one identifiable (named or otherwise described) victim.
type Victim struct {
	Name       *string `json:"name,omitempty"`
	Age        *int    `json:"age,omitempty"`
	Gender     *string `json:"gender,omitempty"`
	Occupation *string `json:"occupation,omitempty"`
	Notes      *string `json:"notes,omitempty"`
}

// UnidentifiedGroup describes victims the article counts but does not name,
// e.g. "três homens ainda não identificados".
type UnidentifiedGroup struct {
	Count       int    `json:"count"`
	Description string `json:"description"`
}

// VictimInfo aggregates identifiable and unidentified victims.
// NumberOfVictims is the total death count the article supports.
type VictimInfo struct {
	IdentifiableVictims         []Victim            `json:"identifiable_victims"`
	NumberOfIdentifiableVictims int                 `json:"number_of_identifiable_victims"`
	UnidentifiedGroups          []UnidentifiedGroup `json:"unidentified_groups,omitempty"`
	NumberOfUnidentifiedVictims *int                `json:"number_of_unidentified_victims,omitempty"`
	NumberOfVictims             int                 `json:"number_of_victims"`
}

// PerpetratorInfo mirrors VictimInfo for perpetrators, plus the
// security-force flag for deaths during police operations.
type PerpetratorInfo struct {
	IdentifiablePerpetrators         []Victim            `json:"identifiable_perpetrators"`
	NumberOfIdentifiablePerpetrators int                 `json:"number_of_identifiable_perpetrators"`
	UnidentifiedGroups               []UnidentifiedGroup `json:"unidentified_groups,omitempty"`
	NumberOfPerpetrators             *int                `json:"number_of_perpetrators,omitempty"`
	SecurityForceInvolved            bool                `json:"security_force_involved"`
}

// HomicideDynamic is the narrative core of the extraction.
type HomicideDynamic struct {
	Title                    string  `json:"title"`
	HomicideType             string  `json:"homicide_type" jsonschema:"enum=Homicídio,enum=Feminicídio,enum=Latrocínio,enum=Infanticídio,enum=Intervenção policial,enum=Chacina,enum=Morte a esclarecer"`
	Method                   *string `json:"method,omitempty"`
	ChronologicalDescription string  `json:"chronological_description"`
}

// Validate enforces the payload invariants that schema validation alone
// cannot express. It is called by the LLM client after schema validation and
// before a RawEvent is created; a violation counts as a schema error and is
// retried within the client's budget.
func (e *Extraction) Validate() error {
	dv := e.DateTime.DateVerification
	if e.DateTime.Date != nil {
		// The single most common failure mode is a fabricated date. The
		// verification sub-object must support any non-null date.
		if !dv.HasExplicitDate || dv.DateSource == DateSourceNone {
			return fmt.Errorf("date %q present but date_verification denies it (has_explicit_date=%t, date_source=%q)",
				*e.DateTime.Date, dv.HasExplicitDate, dv.DateSource)
		}
		if _, err := time.Parse(eventDateLayout, *e.DateTime.Date); err != nil {
			return fmt.Errorf("unparsable event date %q: %w", *e.DateTime.Date, err)
		}
	}
	switch dv.DateSource {
	case DateSourceExplicit, DateSourceInferred, DateSourceNone:
	default:
		return fmt.Errorf("unknown date_source %q", dv.DateSource)
	}
	if e.Victims.NumberOfVictims < 0 {
		return fmt.Errorf("negative victim count %d", e.Victims.NumberOfVictims)
	}
	if e.Victims.NumberOfVictims < e.Victims.NumberOfIdentifiableVictims {
		return fmt.Errorf("total victims %d below identifiable victims %d",
			e.Victims.NumberOfVictims, e.Victims.NumberOfIdentifiableVictims)
	}
	if e.HomicideDynamic.Title == "" {
		return fmt.Errorf("empty homicide_dynamic.title")
	}
	return nil
}

// EventDate parses the payload's date into a UTC midnight timestamp.
// Returns nil when no date was extracted.
func (e *Extraction) EventDate() *time.Time {
	if e.DateTime.Date == nil {
		return nil
	}
	t, err := time.ParseInLocation(eventDateLayout, *e.DateTime.Date, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

// SecurityForceInvolved reports the denormalized security-force flag.
func (e *Extraction) SecurityForceInvolved() bool {
	return e.Perpetrators != nil && e.Perpetrators.SecurityForceInvolved
}
