// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package fetcher

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/vigia-news/vigia/internal/config"
)

// searchPath is the aggregator's RSS search endpoint, relative to the
// configured base origin.
const searchPath = "/rss/search"

// editionIDs maps IETF language tags to the aggregator's edition codes
// where the two differ.
var editionIDs = map[string]string{
	"pt-BR": "pt-419",
}

// expandQuery substitutes the locality into a query template. Templates
// without the placeholder come back unchanged.
func expandQuery(template, city string) string {
	return strings.ReplaceAll(template, "{city}", city)
}

// shardQuery narrows a query to a single publisher domain.
func shardQuery(query, domain string) string {
	return query + " site:" + domain
}

// partitionTemplates separates city-templated queries from standalone ones.
// Standalone queries are polled once per cycle instead of once per locality.
func partitionTemplates(templates []string) (city, global []string) {
	for _, tpl := range templates {
		if strings.Contains(tpl, "{city}") {
			city = append(city, tpl)
		} else {
			global = append(global, tpl)
		}
	}
	return city, global
}

// searchURL builds the feed request URL for one query: the recency window is
// appended to the query itself, locale parameters ride as hl/gl/ceid.
func searchURL(cfg *config.FeedConfig, query string) (string, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing feed base URL: %w", err)
	}
	base.Path = searchPath

	params := url.Values{}
	params.Set("q", withWhen(query, cfg.When))
	params.Set("hl", cfg.Language)
	params.Set("gl", cfg.Country)
	params.Set("ceid", editionID(cfg.Country, cfg.Language))
	base.RawQuery = params.Encode()

	return base.String(), nil
}

// withWhen appends the recency qualifier the aggregator uses to bound
// results (e.g. "when:7d").
func withWhen(query, when string) string {
	if when == "" {
		return query
	}
	return query + " when:" + when
}

// editionID derives the ceid parameter from country and language.
func editionID(country, language string) string {
	if mapped, ok := editionIDs[language]; ok {
		language = mapped
	}
	return country + ":" + language
}

// splitHeadline splits a feed title of the form "Headline - Publisher" at
// the LAST separator so hyphenated headlines stay intact. Titles without a
// separator are all headline.
func splitHeadline(title string) (headline, publisher string) {
	title = strings.TrimSpace(title)
	idx := strings.LastIndex(title, " - ")
	if idx < 0 {
		return title, ""
	}
	return strings.TrimSpace(title[:idx]), strings.TrimSpace(title[idx+3:])
}
