// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package models

import "time"

// GeocodePrecision tags how precise a geocoder hit is. Unexpected tags from
// the upstream service are normalized to GeocodeApproximate.
type GeocodePrecision string

const (
	GeocodeExact              GeocodePrecision = "exact"
	GeocodeApproximate        GeocodePrecision = "approximate"
	GeocodeNeighborhoodCenter GeocodePrecision = "neighborhood_center"
	GeocodeCityCenter         GeocodePrecision = "city_center"
)

// GeocodeResult is the outcome of one geocoder lookup.
type GeocodeResult struct {
	Latitude         float64          `json:"lat"`
	Longitude        float64          `json:"lng"`
	PlusCode         *string          `json:"plus_code,omitempty"`
	PlaceID          *string          `json:"place_id,omitempty"`
	FormattedAddress *string          `json:"formatted_address,omitempty"`
	Precision        GeocodePrecision `json:"precision"`
	Source           string           `json:"source"`
	Confidence       float64          `json:"confidence"`
}

// UniqueEvent is one real-world incident, synthesized from all linked
// RawEvents. Enrichment overwrites its fields wholesale: newer evidence may
// correct earlier guesses, so prior values are never merged field-by-field.
//
// Invariants:
//   - SourceCount equals the number of RawEvents whose UniqueEventID points here.
//   - NeedsEnrichment is set whenever a new RawEvent is linked, cleared on
//     successful enrichment.
type UniqueEvent struct {
	ID int64 `json:"id"`

	// Classification
	HomicideType  *string    `json:"homicide_type,omitempty"`
	Method        *string    `json:"method,omitempty"`
	EventDate     *time.Time `json:"event_date,omitempty"`
	DatePrecision *string    `json:"date_precision,omitempty"`
	TimeOfDay     *string    `json:"time_of_day,omitempty"`

	// Location
	Country             *string `json:"country,omitempty"`
	State               *string `json:"state,omitempty"`
	City                *string `json:"city,omitempty"`
	Neighborhood        *string `json:"neighborhood,omitempty"`
	Street              *string `json:"street,omitempty"`
	Establishment       *string `json:"establishment,omitempty"`
	LocationDescription *string `json:"location_description,omitempty"`

	// Geocoding (populated only when the geocoder capability is enabled)
	Latitude          *float64          `json:"latitude,omitempty"`
	Longitude         *float64          `json:"longitude,omitempty"`
	PlusCode          *string           `json:"plus_code,omitempty"`
	PlaceID           *string           `json:"place_id,omitempty"`
	FormattedAddress  *string           `json:"formatted_address,omitempty"`
	GeocodePrecision  *GeocodePrecision `json:"geocode_precision,omitempty"`
	GeocodeSource     *string           `json:"geocode_source,omitempty"`
	GeocodeConfidence *float64          `json:"geocode_confidence,omitempty"`

	// People
	VictimCount                int     `json:"victim_count"`
	IdentifiedVictimCount      int     `json:"identified_victim_count"`
	VictimSummary              *string `json:"victim_summary,omitempty"`
	PerpetratorCount           *int    `json:"perpetrator_count,omitempty"`
	IdentifiedPerpetratorCount *int    `json:"identified_perpetrator_count,omitempty"`
	SecurityForceInvolved      bool    `json:"security_force_involved"`

	// Narrative
	Title             string  `json:"title"`
	Description       string  `json:"description"`
	AdditionalContext *string `json:"additional_context,omitempty"`

	// MergedData is the JSON synthesis of all source payloads. Opaque to
	// the store; only the enricher reads or writes it.
	MergedData *string `json:"merged_data,omitempty"`

	// Provenance
	SourceCount     int        `json:"source_count"`
	Confirmed       bool       `json:"confirmed"` // manual review flag
	NeedsEnrichment bool       `json:"needs_enrichment"`
	LastEnrichedAt  *time.Time `json:"last_enriched_at,omitempty"`
	EnrichmentModel *string    `json:"enrichment_model,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
