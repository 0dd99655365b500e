// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

// Package llm is the single gateway to the OpenAI-compatible endpoint.
//
// It exposes one capability, schema-constrained completion, behind typed
// per-role methods. Every call is circuit-breaker protected, retried with
// exponential backoff on transport and schema-violation errors, and the
// returned value is guaranteed to validate against the role's response
// schema plus its semantic checks. Call sites never see raw completions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/vigia-news/vigia/internal/config"
	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/metrics"
	"github.com/vigia-news/vigia/internal/models"
)

// Pipeline roles, used as metric labels and to pick the model per call.
const (
	RoleClassification = "classification"
	RoleExtraction     = "extraction"
	RoleMatch          = "match"
	RoleCluster        = "cluster"
	RoleEnrichment     = "enrichment"
)

// Retry backoff bounds. The delay doubles per attempt from the minimum.
const (
	minRetryInterval = 500 * time.Millisecond
	maxRetryInterval = 10 * time.Second
)

// breakerName labels the shared circuit breaker in metrics and logs.
const breakerName = "llm-api"

// Client wraps the OpenAI-compatible API with a circuit breaker and the
// retry budget. One Client serves all five pipeline roles; the breaker state
// is shared because the roles share the upstream.
type Client struct {
	api        openai.Client
	breaker    *gobreaker.CircuitBreaker[*openai.ChatCompletion]
	cfg        *config.LLMConfig
	maxRetries int
}

// New creates the LLM client. The SDK's own retry machinery is disabled;
// the wrapper owns the retry budget so schema violations and transport
// errors share one policy.
func New(cfg *config.LLMConfig) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Client{
		api:        openai.NewClient(opts...),
		breaker:    newBreaker(breakerName),
		cfg:        cfg,
		maxRetries: maxRetries,
	}
}

// newBreaker builds the shared circuit breaker.
// Configuration:
// - Max 3 concurrent requests in half-open state
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func newBreaker(name string) *gobreaker.CircuitBreaker[*openai.ChatCompletion] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0) // 0 = closed

	return gobreaker.NewCircuitBreaker[*openai.ChatCompletion](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false // too few requests for statistical significance
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
				return true
			}
			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})
}

// ClassifyHeadline asks the classification model for a triage verdict on one
// headline. Only the headline is sent; nothing has been downloaded at this
// stage.
func (c *Client) ClassifyHeadline(ctx context.Context, headline string) (*models.Classification, error) {
	return completeJSON(ctx, c, request{
		role:   RoleClassification,
		model:  c.cfg.ClassificationModel,
		system: classificationSystem,
		user:   classificationUserPrompt(headline),
		schema: classificationSchema,
	}, func(v *models.Classification) error { return v.Validate() })
}

// ExtractArticle runs the structured extraction over a downloaded article.
func (c *Client) ExtractArticle(ctx context.Context, article ArticleInput) (*models.Extraction, error) {
	return completeJSON(ctx, c, request{
		role:   RoleExtraction,
		model:  c.cfg.ExtractionModel,
		system: extractionSystem,
		user:   extractionUserPrompt(article),
		schema: extractionSchema,
	}, func(v *models.Extraction) error { return v.Validate() })
}

// MatchIncident asks whether subject describes the same real-world incident
// as any of the candidates. A verdict naming an incident outside the
// candidate set counts as a schema violation and is retried.
func (c *Client) MatchIncident(ctx context.Context, subject IncidentCard, candidates []IncidentCard) (*models.MatchResult, error) {
	ids := make(map[int64]bool, len(candidates))
	for _, cand := range candidates {
		ids[cand.ID] = true
	}
	return completeJSON(ctx, c, request{
		role:   RoleMatch,
		model:  c.cfg.MatchModel,
		system: matchSystem,
		user:   matchUserPrompt(subject, candidates),
		schema: matchSchema,
	}, func(v *models.MatchResult) error {
		if err := v.Validate(); err != nil {
			return err
		}
		if v.Match && !ids[*v.IncidentID] {
			return fmt.Errorf("incident_id %d is not a candidate", *v.IncidentID)
		}
		return nil
	})
}

// ClusterIncidents partitions the numbered reports into incident groups.
// The returned clusters are a verified exact partition of 1..len(items).
func (c *Client) ClusterIncidents(ctx context.Context, items []IncidentCard) (*models.ClusterResult, error) {
	n := len(items)
	return completeJSON(ctx, c, request{
		role:   RoleCluster,
		model:  c.cfg.MatchModel,
		system: clusterSystem,
		user:   clusterUserPrompt(items),
		schema: clusterSchema,
	}, func(v *models.ClusterResult) error { return v.Validate(n) })
}

// EnrichIncident synthesizes the canonical incident record from every piece
// of linked evidence.
func (c *Client) EnrichIncident(ctx context.Context, evidence []EvidenceDocument) (*models.EnrichmentResult, error) {
	return completeJSON(ctx, c, request{
		role:   RoleEnrichment,
		model:  c.cfg.EnrichmentModel,
		system: enrichmentSystem,
		user:   enrichmentUserPrompt(evidence),
		schema: enrichmentSchema,
	}, func(v *models.EnrichmentResult) error { return v.Validate() })
}

// request carries one completion call through the retry loop.
type request struct {
	role   string
	model  string
	system string
	user   string
	schema *ResponseSchema
}

// completeJSON is the single completion capability: one schema-constrained
// chat call, retried with exponential backoff on transport and schema
// errors, decoded into T and semantically checked before it is returned.
//
// Non-retryable outcomes short-circuit: an open breaker, a canceled context,
// and transport errors that cannot heal (auth, malformed request).
func completeJSON[T any](ctx context.Context, c *Client, req request, check func(*T) error) (*T, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		value, err := attemptOnce(ctx, c, req, check)
		if err == nil {
			return value, nil
		}
		lastErr = err

		var sv *SchemaViolationError
		switch {
		case errors.As(err, &sv):
			if attempt < c.maxRetries {
				metrics.LLMSchemaRetries.WithLabelValues(req.role).Inc()
				logging.Warn().Str("role", req.role).Int("attempt", attempt+1).Str("detail", sv.Detail).Msg("Schema-invalid completion, retrying")
			}
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, fmt.Errorf("llm %s call rejected: %w", req.role, err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		case !retryableTransport(err):
			return nil, fmt.Errorf("llm %s call failed: %w", req.role, err)
		default:
			logging.Warn().Err(err).Str("role", req.role).Int("attempt", attempt+1).Msg("LLM transport error, retrying")
		}
	}
	return nil, fmt.Errorf("llm %s call failed after %d attempts: %w", req.role, c.maxRetries+1, lastErr)
}

// attemptOnce performs one breaker-guarded call and full response validation.
func attemptOnce[T any](ctx context.Context, c *Client, req request, check func(*T) error) (*T, error) {
	start := time.Now()
	completion, err := c.breaker.Execute(func() (*openai.ChatCompletion, error) {
		return c.api.Chat.Completions.New(ctx, c.params(req))
	})
	if err != nil {
		result := "transport_error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "rejected"
		}
		metrics.RecordLLMRequest(req.role, result, time.Since(start))
		return nil, err
	}

	// Tokens were consumed even when validation below rejects the payload.
	metrics.RecordLLMUsage(req.role, completion.Usage.PromptTokens, completion.Usage.CompletionTokens)

	value, err := decodeChecked(req, completion, check)
	if err != nil {
		metrics.RecordLLMRequest(req.role, "schema_violation", time.Since(start))
		return nil, err
	}
	metrics.RecordLLMRequest(req.role, "success", time.Since(start))
	return value, nil
}

// decodeChecked validates the completion against the response schema,
// decodes it, and runs the role's semantic check. Every failure mode maps to
// a SchemaViolationError so the retry loop treats them uniformly.
func decodeChecked[T any](req request, completion *openai.ChatCompletion, check func(*T) error) (*T, error) {
	if len(completion.Choices) == 0 {
		return nil, &SchemaViolationError{Role: req.role, Detail: "completion has no choices"}
	}
	raw := []byte(completion.Choices[0].Message.Content)

	if err := req.schema.validate(raw); err != nil {
		return nil, &SchemaViolationError{Role: req.role, Detail: err.Error(), Raw: snippet(raw)}
	}

	value := new(T)
	if err := json.Unmarshal(raw, value); err != nil {
		return nil, &SchemaViolationError{Role: req.role, Detail: fmt.Sprintf("decode: %v", err), Raw: snippet(raw)}
	}

	if check != nil {
		if err := check(value); err != nil {
			return nil, &SchemaViolationError{Role: req.role, Detail: err.Error(), Raw: snippet(raw)}
		}
	}
	return value, nil
}

// params builds the chat request with the role's schema as a strict
// structured-output constraint.
func (c *Client) params(req request) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.system),
			openai.UserMessage(req.user),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        req.schema.Name,
					Description: openai.String(req.schema.Description),
					Schema:      req.schema.Definition,
					Strict:      openai.Bool(true),
				},
			},
		},
	}
}

// backoff sleeps for the attempt's exponential delay, honoring cancellation.
func backoff(ctx context.Context, attempt int) error {
	delay := minRetryInterval << (attempt - 1)
	if delay > maxRetryInterval {
		delay = maxRetryInterval
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// retryableTransport reports whether a transport error is worth another
// attempt. Auth and request-shape errors never heal on retry.
func retryableTransport(err error) bool {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusRequestTimeout,
			apierr.StatusCode == http.StatusConflict,
			apierr.StatusCode == http.StatusTooManyRequests,
			apierr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	return true // network-level failure
}

// stateToFloat converts circuit breaker state to a numeric value for metrics.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to a string for logging.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
