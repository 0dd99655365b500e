// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package models

import (
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func strPtr(s string) *string { return &s }

func validExtraction() Extraction {
	return Extraction{
		LocationInfo: LocationInfo{
			City:  strPtr("Fortaleza"),
			State: strPtr("Ceará"),
		},
		DateTime: DateTimeInfo{
			DateVerification: DateVerification{
				HasExplicitDate:         true,
				DateSource:              DateSourceExplicit,
				DateTextQuote:           strPtr("na noite desta terça-feira (12)"),
				YearExplicitlyMentioned: false,
				VerificationReasoning:   "weekday and day-of-month stated in the lead paragraph",
			},
			Date:          strPtr("2026-05-12"),
			DatePrecision: strPtr(DatePrecisionExact),
			TimeOfDay:     strPtr("noite"),
		},
		Victims: VictimInfo{
			IdentifiableVictims: []Victim{
				{Name: strPtr("João da Silva"), Age: intPtr(34), Gender: strPtr("masculino")},
			},
			NumberOfIdentifiableVictims: 1,
			NumberOfVictims:             1,
		},
		HomicideDynamic: HomicideDynamic{
			Title:                    "Homem morto a tiros no bairro Messejana",
			HomicideType:             "Homicídio",
			Method:                   strPtr("arma de fogo"),
			ChronologicalDescription: "A vítima foi atingida por disparos ao sair de casa.",
		},
	}
}

func intPtr(n int) *int { return &n }

func TestExtractionValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Extraction)
		wantErr string
	}{
		{
			name:   "valid payload",
			mutate: func(e *Extraction) {},
		},
		{
			name: "null date with no verification",
			mutate: func(e *Extraction) {
				e.DateTime.Date = nil
				e.DateTime.DateVerification.HasExplicitDate = false
				e.DateTime.DateVerification.DateSource = DateSourceNone
			},
		},
		{
			name: "date present but has_explicit_date false",
			mutate: func(e *Extraction) {
				e.DateTime.DateVerification.HasExplicitDate = false
			},
			wantErr: "date_verification denies it",
		},
		{
			name: "date present but date_source none",
			mutate: func(e *Extraction) {
				e.DateTime.DateVerification.DateSource = DateSourceNone
			},
			wantErr: "date_verification denies it",
		},
		{
			name: "date inferred from publication is allowed",
			mutate: func(e *Extraction) {
				e.DateTime.DateVerification.DateSource = DateSourceInferred
			},
		},
		{
			name: "unparsable date",
			mutate: func(e *Extraction) {
				e.DateTime.Date = strPtr("12/05/2026")
			},
			wantErr: "unparsable event date",
		},
		{
			name: "unknown date_source",
			mutate: func(e *Extraction) {
				e.DateTime.Date = nil
				e.DateTime.DateVerification.DateSource = "guessed"
			},
			wantErr: "unknown date_source",
		},
		{
			name: "identifiable exceeds total",
			mutate: func(e *Extraction) {
				e.Victims.NumberOfIdentifiableVictims = 3
			},
			wantErr: "below identifiable victims",
		},
		{
			name: "negative victim count",
			mutate: func(e *Extraction) {
				e.Victims.NumberOfVictims = -1
				e.Victims.NumberOfIdentifiableVictims = -1
			},
			wantErr: "negative victim count",
		},
		{
			name: "empty title",
			mutate: func(e *Extraction) {
				e.HomicideDynamic.Title = ""
			},
			wantErr: "empty homicide_dynamic.title",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := validExtraction()
			tc.mutate(&e)
			err := e.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestExtractionEventDate(t *testing.T) {
	t.Parallel()

	e := validExtraction()
	got := e.EventDate()
	if got == nil {
		t.Fatal("Expected a parsed event date")
	}
	want := time.Date(2026, 5, 12, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("EventDate() = %v, want %v", got, want)
	}

	e.DateTime.Date = nil
	if e.EventDate() != nil {
		t.Error("Expected nil event date for null payload date")
	}
}

func TestExtractionNullDateSurvivesJSON(t *testing.T) {
	t.Parallel()

	e := validExtraction()
	e.DateTime.Date = nil
	e.DateTime.DateVerification.HasExplicitDate = false
	e.DateTime.DateVerification.DateSource = DateSourceNone

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	// Date is non-omitempty so the explicit null must appear on the wire.
	if !strings.Contains(string(data), `"date":null`) {
		t.Errorf("Expected explicit null date in payload, got %s", data)
	}

	var decoded Extraction
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if decoded.DateTime.Date != nil {
		t.Error("Expected null date after round trip")
	}
	if decoded.SecurityForceInvolved() {
		t.Error("Expected security-force flag to default to false without perpetrators")
	}
}
