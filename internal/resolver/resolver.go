// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

// Package resolver decodes aggregator redirect links into publisher URLs.
//
// The aggregator obfuscates article links: the real publisher URL is packed
// into a base64url token in the /rss/articles/<token> (or /read/<token>)
// path. Old-style tokens decode locally; new-style tokens (payload prefixed
// "AU_yqL") only resolve through the aggregator's batch endpoint, which
// requires per-article signature parameters scraped from the article page.
//
// Resolution is best-effort by contract: any failure yields nil, never an
// error. Non-aggregator URLs pass through unchanged.
package resolver

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/vigia-news/vigia/internal/config"
	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/metrics"
)

// errNeedsRemote signals that a token decoded cleanly but carries a
// new-style payload that only the batch endpoint can expand.
var errNeedsRemote = errors.New("token requires remote decode")

// retryDelay is the fixed backoff before the single remote-decode retry.
const retryDelay = 500 * time.Millisecond

// maxResponseBytes bounds article-page and batch-endpoint reads.
const maxResponseBytes = 2 << 20 // 2 MiB

// Resolver resolves aggregator redirect links. Safe for concurrent use;
// the internal limiter serializes outbound requests politely.
type Resolver struct {
	cfg     *config.ResolverConfig
	client  *http.Client
	limiter *rate.Limiter

	// articleBase is the aggregator origin used for signature scraping,
	// derived from the batch URL so tests can point both at one fake.
	articleBase string
}

// New creates a resolver from configuration. The limiter admits one request
// per RequestInterval with a burst of one, matching the polite-interval
// contract.
func New(cfg *config.ResolverConfig) *Resolver {
	interval := cfg.RequestInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	base := ""
	if u, err := url.Parse(cfg.BatchURL); err == nil {
		base = u.Scheme + "://" + u.Host
	}

	return &Resolver{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
		articleBase: base,
	}
}

// Resolve returns the publisher URL behind an aggregator link, the input
// unchanged for non-aggregator links, or nil when resolution fails.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) *string {
	start := time.Now()
	defer func() {
		metrics.ResolverDuration.Observe(time.Since(start).Seconds())
	}()

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		metrics.ResolverResolutionsTotal.WithLabelValues("local", "error").Inc()
		return nil
	}

	if !isAggregatorHost(parsed.Host) {
		metrics.ResolverResolutionsTotal.WithLabelValues("passthrough", "success").Inc()
		return &rawURL
	}

	if !r.cfg.Enabled {
		return nil
	}

	token, ok := articleToken(parsed.Path)
	if !ok {
		metrics.ResolverResolutionsTotal.WithLabelValues("local", "error").Inc()
		return nil
	}

	decoded, err := decodeToken(token)
	if err == nil {
		metrics.ResolverResolutionsTotal.WithLabelValues("local", "success").Inc()
		return &decoded
	}
	if !errors.Is(err, errNeedsRemote) {
		logging.Debug().Err(err).Str("url", rawURL).Msg("Local link decode failed")
		metrics.ResolverResolutionsTotal.WithLabelValues("local", "error").Inc()
		return nil
	}

	// Remote decode gets one retry at a fixed delay; the local path is
	// deterministic so retrying it would be pointless.
	decoded, err = r.decodeRemote(ctx, token)
	if err != nil {
		select {
		case <-ctx.Done():
			metrics.ResolverResolutionsTotal.WithLabelValues("remote", "error").Inc()
			return nil
		case <-time.After(retryDelay):
		}
		decoded, err = r.decodeRemote(ctx, token)
	}
	if err != nil {
		logging.Debug().Err(err).Str("url", rawURL).Msg("Remote link decode failed")
		metrics.ResolverResolutionsTotal.WithLabelValues("remote", "error").Inc()
		return nil
	}

	metrics.ResolverResolutionsTotal.WithLabelValues("remote", "success").Inc()
	return &decoded
}

// isAggregatorHost matches the aggregator origin and its subdomains.
func isAggregatorHost(host string) bool {
	host = strings.ToLower(host)
	return host == "news.google.com" || strings.HasSuffix(host, ".news.google.com")
}

// articleToken extracts the obfuscated token from an aggregator path.
// Accepted shapes: /rss/articles/<token>, /articles/<token>, /read/<token>.
func articleToken(path string) (string, bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if (seg == "articles" || seg == "read") && i+1 < len(segments) && segments[i+1] != "" {
			return segments[i+1], true
		}
	}
	return "", false
}

// decodeToken expands an old-style token locally. The payload is base64url:
// a 0x08 0x13 0x22 header, a varint-length-prefixed URL, and an optional
// 0xd2 0x01 0x00 trailer. New-style payloads start with "AU_yqL" and are
// reported as errNeedsRemote.
func decodeToken(token string) (string, error) {
	data, err := base64URLDecode(token)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	prefix := []byte{0x08, 0x13, 0x22}
	if !bytes.HasPrefix(data, prefix) {
		return "", fmt.Errorf("unrecognized payload header")
	}
	data = data[len(prefix):]

	suffix := []byte{0xd2, 0x01, 0x00}
	data = bytes.TrimSuffix(data, suffix)

	if len(data) == 0 {
		return "", fmt.Errorf("empty payload")
	}

	// One- or two-byte varint length prefix.
	length := int(data[0])
	offset := 1
	if length >= 0x80 {
		if len(data) < 2 {
			return "", fmt.Errorf("truncated length prefix")
		}
		length = (length & 0x7f) | int(data[1])<<7
		offset = 2
	}
	if offset+length > len(data) {
		return "", fmt.Errorf("length prefix exceeds payload")
	}

	candidate := string(data[offset : offset+length])
	if strings.HasPrefix(candidate, "AU_yqL") {
		return "", errNeedsRemote
	}

	u, err := url.Parse(candidate)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("decoded payload is not a URL")
	}
	return candidate, nil
}

// base64URLDecode tolerates both padded and unpadded url-safe input.
func base64URLDecode(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}

// decodeRemote expands a new-style token through the batch endpoint. It
// scrapes the per-article signature and timestamp from the article page,
// then posts a garturlreq envelope and unwraps the layered JSON response.
func (r *Resolver) decodeRemote(ctx context.Context, token string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("limiter: %w", err)
	}

	sig, ts, err := r.fetchArticleParams(ctx, token)
	if err != nil {
		return "", fmt.Errorf("fetch signature params: %w", err)
	}

	return r.postBatchDecode(ctx, token, sig, ts)
}

// fetchArticleParams loads the article interstitial page and pulls the
// data-n-a-sg / data-n-a-ts attributes the batch endpoint requires.
func (r *Resolver) fetchArticleParams(ctx context.Context, token string) (sig, ts string, err error) {
	pageURL := fmt.Sprintf("%s/articles/%s", r.articleBase, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch article page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("article page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", "", fmt.Errorf("parse article page: %w", err)
	}

	node := doc.Find("c-wiz > div[jscontroller]").First()
	sig, sigOK := node.Attr("data-n-a-sg")
	ts, tsOK := node.Attr("data-n-a-ts")
	if !sigOK || !tsOK || sig == "" || ts == "" {
		return "", "", fmt.Errorf("signature attributes not found")
	}
	return sig, ts, nil
}

// postBatchDecode performs the documented garturlreq exchange and returns
// the publisher URL from the layered response.
func (r *Resolver) postBatchDecode(ctx context.Context, token, sig, ts string) (string, error) {
	inner := fmt.Sprintf(
		`["garturlreq",[["X","X",["X","X"],null,null,1,1,"US:en",null,1,null,null,null,null,null,0,1],"X","X",1,[1,1,1],1,1,null,0,0,null,0],"%s",%s,"%s"]`,
		token, ts, sig,
	)
	envelope, err := json.Marshal([][][]any{{{"Fbv4je", inner, nil, "generic"}}})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	form := url.Values{"f.req": {string(envelope)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BatchURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post batch decode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("batch endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read batch response: %w", err)
	}

	return parseBatchResponse(body)
}

// parseBatchResponse unwraps the anti-hijacking leader and the two JSON
// layers of a batch response. The publisher URL sits at parsed[0][2][1]
// where element [0][2] is itself a JSON-encoded array.
func parseBatchResponse(body []byte) (string, error) {
	// Skip the )]}' leader line and any length line before the payload.
	idx := bytes.IndexByte(body, '[')
	if idx < 0 {
		return "", fmt.Errorf("no JSON payload in batch response")
	}

	var outer []json.RawMessage
	if err := json.Unmarshal(body[idx:], &outer); err != nil {
		return "", fmt.Errorf("decode outer payload: %w", err)
	}
	if len(outer) == 0 {
		return "", fmt.Errorf("empty outer payload")
	}

	var first []json.RawMessage
	if err := json.Unmarshal(outer[0], &first); err != nil {
		return "", fmt.Errorf("decode response row: %w", err)
	}
	if len(first) < 3 {
		return "", fmt.Errorf("response row too short")
	}

	var layered string
	if err := json.Unmarshal(first[2], &layered); err != nil {
		return "", fmt.Errorf("decode layered string: %w", err)
	}

	var payload []any
	if err := json.Unmarshal([]byte(layered), &payload); err != nil {
		return "", fmt.Errorf("decode layered payload: %w", err)
	}
	if len(payload) < 2 {
		return "", fmt.Errorf("layered payload too short")
	}

	resolved, ok := payload[1].(string)
	if !ok || resolved == "" {
		return "", fmt.Errorf("layered payload carries no URL")
	}

	u, err := url.Parse(resolved)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("batch response is not a URL")
	}
	return resolved, nil
}
