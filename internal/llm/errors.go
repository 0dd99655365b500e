// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package llm

import (
	"errors"
	"fmt"
)

// rawSnippetLimit caps how much of an offending completion is carried on the
// error. Full payloads can run to tens of kilobytes.
const rawSnippetLimit = 500

// SchemaViolationError reports a completion that did not satisfy the response
// contract: malformed JSON, a schema mismatch, or a failed semantic check
// such as an inconsistent victim count. The client retries these within its
// budget; callers that see one have already exhausted it.
type SchemaViolationError struct {
	Role   string // pipeline role of the call: "classification", "extraction", ...
	Detail string // first validation failure(s)
	Raw    string // offending completion text, truncated
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("llm %s response violates schema: %s", e.Role, e.Detail)
}

// IsSchemaViolation reports whether err is, or wraps, a schema violation.
// The extractor uses this to distinguish a bad payload (terminal failure,
// stored on the source) from a transport problem (left for the next pass).
func IsSchemaViolation(err error) bool {
	var sv *SchemaViolationError
	return errors.As(err, &sv)
}

// snippet truncates a completion body for error reporting.
func snippet(raw []byte) string {
	if len(raw) <= rawSnippetLimit {
		return string(raw)
	}
	return string(raw[:rawSnippetLimit]) + "..."
}
