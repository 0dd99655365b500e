// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/vigia-news/vigia/internal/models"
)

// ResponseSchema bundles one response contract: the JSON schema sent to the
// API as a structured-output constraint and the compiled validator the client
// re-checks every completion against. Constrained decoding is best-effort on
// some backends; the local check is what the pipeline actually trusts.
type ResponseSchema struct {
	Name        string
	Description string
	Definition  map[string]any

	compiled *gojsonschema.Schema
}

// The five response contracts, one per pipeline role. Reflected once at
// package load from the model types; a reflection or compile failure is a
// programming error and panics immediately.
var (
	classificationSchema = mustSchema(
		"headline_classification",
		"Veredicto de triagem: a manchete indica uma ou mais mortes violentas?",
		models.Classification{},
	)

	extractionSchema = mustSchema(
		"incident_extraction",
		"Dados estruturados do incidente de morte violenta descrito na matéria.",
		models.Extraction{},
		"date_time.date",
	)

	matchSchema = mustSchema(
		"incident_match",
		"Veredicto de correspondência entre um novo relato e incidentes candidatos.",
		models.MatchResult{},
		"incident_id",
	)

	clusterSchema = mustSchema(
		"incident_clusters",
		"Partição de relatos numerados em grupos que descrevem o mesmo incidente.",
		models.ClusterResult{},
	)

	enrichmentSchema = mustSchema(
		"incident_enrichment",
		"Registro canônico consolidado a partir de todos os relatos vinculados.",
		models.EnrichmentResult{},
		"method", "event_date", "date_precision", "time_of_day",
		"country", "state", "city", "neighborhood", "street",
		"establishment", "location_description", "victim_summary",
		"perpetrator_count", "identified_perpetrator_count",
		"additional_context",
	)
)

// mustSchema reflects a model type into a JSON schema and compiles the
// validator. Reflection maps Go pointers to their element type, which alone
// would reject the explicit nulls the prompts demand for absent values, so
// two rewrites run after reflection: optional properties always accept null,
// and the named required paths do too.
func mustSchema(name, description string, template any, nullablePaths ...string) *ResponseSchema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	raw, err := json.Marshal(reflector.Reflect(template))
	if err != nil {
		panic(fmt.Sprintf("llm: reflect %s schema: %v", name, err))
	}

	var definition map[string]any
	if err := json.Unmarshal(raw, &definition); err != nil {
		panic(fmt.Sprintf("llm: decode %s schema: %v", name, err))
	}

	// The draft header confuses validators that predate it, and the $id is
	// a Go package path with no meaning on the wire.
	delete(definition, "$schema")
	delete(definition, "$id")

	allowOptionalNulls(definition)
	allowNullAt(definition, nullablePaths...)

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(definition))
	if err != nil {
		panic(fmt.Sprintf("llm: compile %s schema: %v", name, err))
	}

	return &ResponseSchema{
		Name:        name,
		Description: description,
		Definition:  definition,
		compiled:    compiled,
	}
}

// validate checks a completion body against the compiled schema.
func (s *ResponseSchema) validate(raw []byte) error {
	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	if !result.Valid() {
		return errors.New(joinSchemaErrors(result.Errors()))
	}
	return nil
}

// joinSchemaErrors flattens validation failures into one line, capped so a
// structurally wrong payload does not flood the log.
func joinSchemaErrors(errs []gojsonschema.ResultError) string {
	const maxReported = 3
	parts := make([]string, 0, maxReported+1)
	for i, re := range errs {
		if i == maxReported {
			parts = append(parts, fmt.Sprintf("and %d more", len(errs)-maxReported))
			break
		}
		parts = append(parts, re.String())
	}
	return strings.Join(parts, "; ")
}

// allowOptionalNulls walks the schema and lets every property absent from its
// object's required list validate as explicit null. The prompts tell the
// model "omita ou use null" for optional fields and models routinely pick
// null; without this rewrite each of those answers would burn a retry.
func allowOptionalNulls(node map[string]any) {
	props, _ := node["properties"].(map[string]any)
	required := make(map[string]bool)
	if list, ok := node["required"].([]any); ok {
		for _, name := range list {
			if s, ok := name.(string); ok {
				required[s] = true
			}
		}
	}
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if !required[name] {
			allowNull(prop)
		}
		allowOptionalNulls(prop)
		if items, ok := prop["items"].(map[string]any); ok {
			allowOptionalNulls(items)
		}
	}
}

// allowNullAt rewrites the properties at the given dotted paths to also
// accept null. These are required fields with explicit-null semantics, such
// as the extraction date the model must emit but may not fabricate.
func allowNullAt(schema map[string]any, paths ...string) {
	for _, path := range paths {
		node := schema
		parts := strings.Split(path, ".")
		for i, part := range parts {
			props, _ := node["properties"].(map[string]any)
			child, _ := props[part].(map[string]any)
			if child == nil {
				panic(fmt.Sprintf("llm: schema path %q not found", path))
			}
			if i == len(parts)-1 {
				allowNull(child)
			} else {
				node = child
			}
		}
	}
}

// allowNull widens one property to accept JSON null, including null as an
// enum member when the property carries a fixed vocabulary.
func allowNull(prop map[string]any) {
	if t, ok := prop["type"].(string); ok {
		prop["type"] = []any{t, "null"}
	}
	if enums, ok := prop["enum"].([]any); ok {
		prop["enum"] = append(enums, nil)
	}
}
