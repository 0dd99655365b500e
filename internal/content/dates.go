// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package content

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"

	"github.com/vigia-news/vigia/internal/logging"
)

// publishedAt resolves the article's publication timestamp: structured
// document metadata first, then the URL path, then the feed's timestamp.
// Every candidate passes the same plausibility gate; the fetch time is
// never a candidate.
func (e *Extractor) publishedAt(doc *goquery.Document, pageURL string, feedPublishedAt *time.Time) *time.Time {
	for _, candidate := range []func() *time.Time{
		func() *time.Time { return jsonLDDate(doc) },
		func() *time.Time { return metaTagDate(doc) },
		func() *time.Time { return urlDate(pageURL) },
	} {
		if t := candidate(); t != nil && e.plausible(*t) {
			return t
		}
	}
	if feedPublishedAt != nil && e.plausible(*feedPublishedAt) {
		t := feedPublishedAt.UTC()
		return &t
	}
	return nil
}

// plausible rejects future dates and dates before the configured year floor.
func (e *Extractor) plausible(t time.Time) bool {
	if t.After(time.Now().UTC()) {
		return false
	}
	return t.Year() >= e.cfg.MinYear
}

// jsonLD is the subset of schema.org markup the date hunt cares about.
// Pages wrap it in a bare object, an array, or an @graph collection.
type jsonLD struct {
	Type          any      `json:"@type"`
	DatePublished string   `json:"datePublished"`
	DateModified  string   `json:"dateModified"`
	Graph         []jsonLD `json:"@graph"`
}

// jsonLDDate reads datePublished from ld+json blocks.
func jsonLDDate(doc *goquery.Document) *time.Time {
	var found *time.Time
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}
		for _, block := range decodeJSONLD(raw) {
			if t := parseDateValue(block.DatePublished); t != nil {
				found = t
				return false
			}
		}
		return true
	})
	return found
}

// decodeJSONLD tolerates the three shapes seen in the wild: object, array
// of objects, and object with an @graph array.
func decodeJSONLD(raw string) []jsonLD {
	var one jsonLD
	if err := json.Unmarshal([]byte(raw), &one); err == nil {
		if len(one.Graph) > 0 {
			return one.Graph
		}
		return []jsonLD{one}
	}
	var many []jsonLD
	if err := json.Unmarshal([]byte(raw), &many); err == nil {
		return many
	}
	logging.Trace().Msg("Unparsable ld+json block skipped")
	return nil
}

// dateMetaSelectors are tried in order; the first parsable hit wins.
var dateMetaSelectors = []struct {
	selector string
	attr     string
}{
	{`meta[property="article:published_time"]`, "content"},
	{`meta[itemprop="datePublished"]`, "content"},
	{`meta[name="publication_date"]`, "content"},
	{`meta[name="publish-date"]`, "content"},
	{`meta[name="publishdate"]`, "content"},
	{`meta[name="date"]`, "content"},
	{`meta[property="og:article:published_time"]`, "content"},
	{`time[datetime]`, "datetime"},
	{`time[pubdate]`, "datetime"},
}

// metaTagDate reads the usual publication-date meta tags.
func metaTagDate(doc *goquery.Document) *time.Time {
	for _, m := range dateMetaSelectors {
		if val, ok := doc.Find(m.selector).First().Attr(m.attr); ok {
			if t := parseDateValue(val); t != nil {
				return t
			}
		}
	}
	return nil
}

// urlDatePatterns matches the date-in-path conventions regional publishers
// use: /2026/08/12/, /2026-08-12-, _20260812.
var urlDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`/(\d{4})/(\d{2})/(\d{2})(?:/|$)`),
	regexp.MustCompile(`[/_-](\d{4})-(\d{2})-(\d{2})(?:[/_.-]|$)`),
	regexp.MustCompile(`[/_-](\d{4})(\d{2})(\d{2})(?:[/_.-]|$)`),
}

// urlDate extracts a date embedded in the page URL.
func urlDate(pageURL string) *time.Time {
	for _, re := range urlDatePatterns {
		m := re.FindStringSubmatch(pageURL)
		if m == nil {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		return &t
	}
	return nil
}

// dateLayouts are the timestamp shapes publishers emit, broadest first.
// The slash layout is day-first: these are pt-BR pages.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
	time.RFC1123Z,
	time.RFC1123,
}

// parseDateValue parses a metadata date string, returning nil when no
// layout fits. Results are normalized to UTC.
func parseDateValue(val string) *time.Time {
	val = strings.TrimSpace(val)
	if val == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, val); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
