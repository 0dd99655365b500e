// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

// Package content downloads publisher pages and extracts main-body article
// text. Extraction runs two passes over the same document: a precision pass
// that scopes itself to the best article container after stripping
// boilerplate, then a recall pass over the whole page (comment blocks
// included) whose substantively new paragraphs are appended. The page's
// meta description is prepended when it does not overlap the body.
//
// The extractor never executes scripts and never carries cookies between
// requests. Output is nil on any failure; the downloader stage maps nil to
// its terminal failure state.
package content

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/vigia-news/vigia/internal/config"
	"github.com/vigia-news/vigia/internal/logging"
	"github.com/vigia-news/vigia/internal/metrics"
)

// maxBodyBytes bounds how much of a publisher page is read. Regional news
// pages run well under this; anything larger is a binary or a mistake.
const maxBodyBytes = 8 << 20 // 8 MiB

// minParagraphChars is the floor below which a paragraph is treated as
// navigation debris rather than prose.
const minParagraphChars = 25

// minNewParagraphChars is the floor for a recall-pass paragraph to count as
// substantively new content worth merging.
const minNewParagraphChars = 40

// Article is the result of a successful extraction.
type Article struct {
	// Text is the cleaned main-body text, paragraph-joined with blank lines.
	Text string

	// Title is the document title from metadata, empty when absent.
	Title string

	// PublishedAt is the publication timestamp from document metadata,
	// already validated (never future, never before the configured floor),
	// falling back to the feed's timestamp. Nil when neither survives.
	PublishedAt *time.Time
}

// Extractor downloads and cleans publisher pages. Safe for concurrent use.
type Extractor struct {
	cfg    *config.ContentConfig
	client *http.Client
}

// New creates an extractor from configuration.
func New(cfg *config.ContentConfig) *Extractor {
	return &Extractor{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			// Redirects are followed with the default policy (10 hops).
			// Cookies are deliberately not kept: no Jar.
		},
	}
}

// Extract fetches pageURL and returns the cleaned article, or nil on any
// failure: HTTP errors, unparsable bodies, and text shorter than the
// configured minimum all yield nil. feedPublishedAt is the fallback
// publication timestamp; the fetch time is never used.
func (e *Extractor) Extract(ctx context.Context, pageURL string, feedPublishedAt *time.Time) *Article {
	doc, err := e.fetch(ctx, pageURL)
	if err != nil {
		logging.Debug().Err(err).Str("url", pageURL).Msg("Article download failed")
		metrics.ArticleDownloadsTotal.WithLabelValues(downloadResult(err)).Inc()
		return nil
	}

	text := extractText(doc)

	if desc := metaDescription(doc); desc != "" && !overlaps(desc, text) {
		if text == "" {
			text = desc
		} else {
			text = desc + "\n\n" + text
		}
	}

	if len(text) < e.cfg.MinLength {
		logging.Debug().
			Str("url", pageURL).
			Int("length", len(text)).
			Int("min_length", e.cfg.MinLength).
			Msg("Extracted text below minimum length")
		metrics.ArticleDownloadsTotal.WithLabelValues("too_short").Inc()
		return nil
	}
	if e.cfg.MaxLength > 0 && len(text) > e.cfg.MaxLength {
		text = truncateAtWord(text, e.cfg.MaxLength)
	}

	published := e.publishedAt(doc, pageURL, feedPublishedAt)

	metrics.ArticleDownloadsTotal.WithLabelValues("ok").Inc()
	metrics.ArticleContentLength.Observe(float64(len(text)))

	return &Article{
		Text:        text,
		Title:       documentTitle(doc),
		PublishedAt: published,
	}
}

// fetch GETs the page with a browser-like UA and parses it, decoding
// whatever charset the server declares.
func (e *Extractor) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.5")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	decoded, err := charset.NewReader(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("charset decode: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(decoded)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return doc, nil
}

// downloadResult maps a fetch error onto the metrics label set.
func downloadResult(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "context deadline exceeded"),
		strings.Contains(msg, "Client.Timeout"):
		return "timeout"
	default:
		return "http_error"
	}
}

// boilerplateSelectors are stripped before the precision pass. Comment
// blocks are intentionally absent: the recall pass wants them.
var boilerplateSelectors = []string{
	"script", "style", "noscript", "iframe", "form", "svg",
	"nav", "header", "footer", "aside",
	"[class*=menu]", "[class*=navbar]", "[class*=sidebar]", "[id*=sidebar]",
	"[class*=share]", "[class*=social]", "[class*=related]", "[class*=widget]",
	"[class*=cookie]", "[class*=newsletter]", "[class*=banner]", "[id*=banner]",
	"[class*=advert]", "[class*=publicidade]", "[class*=promo]",
	"[class*=breadcrumb]", "[class*=paywall]",
}

// articleSelectors are the precision-pass container candidates, ordered by
// how strongly each signals main content.
var articleSelectors = []string{
	"[itemprop=articleBody]",
	"article",
	"main",
	"[class*=article-body]", "[class*=article-content]", "[class*=post-content]",
	"[class*=news-body]", "[class*=materia]", "[class*=conteudo]",
	"#content", ".content",
}

// commentSelectors scope the recall pass's extra reach into reader comments.
var commentSelectors = []string{
	"#comments", "[class*=comment]", "[class*=comentario]",
}

// paragraphTags are the text-bearing elements collected from a container.
const paragraphTags = "p, h2, h3, li, blockquote"

// extractText runs both passes and merges their output.
func extractText(doc *goquery.Document) string {
	working := doc.Selection.Clone()
	working.Find(strings.Join(boilerplateSelectors, ", ")).Remove()

	paragraphs := precisionPass(working)

	seen := make(map[string]bool, len(paragraphs))
	for _, p := range paragraphs {
		seen[normalize(p)] = true
	}

	body := strings.Join(paragraphs, "\n\n")
	for _, p := range recallPass(doc) {
		if len(p) < minNewParagraphChars || seen[normalize(p)] {
			continue
		}
		// Substring containment catches re-flowed duplicates that exact
		// matching misses.
		if strings.Contains(normalize(body), normalize(p)) {
			continue
		}
		seen[normalize(p)] = true
		paragraphs = append(paragraphs, p)
		body = body + "\n\n" + p
	}

	return strings.Join(paragraphs, "\n\n")
}

// precisionPass picks the candidate container with the most paragraph text
// and returns its paragraphs; when no candidate matches it falls back to
// every paragraph left in the stripped document.
func precisionPass(stripped *goquery.Selection) []string {
	var best *goquery.Selection
	bestLen := 0

	for _, sel := range articleSelectors {
		stripped.Find(sel).Each(func(_ int, s *goquery.Selection) {
			n := len(normalize(s.Find("p").Text()))
			if n > bestLen {
				best, bestLen = s, n
			}
		})
		if best != nil {
			break
		}
	}

	scope := stripped
	if best != nil {
		scope = best
	}
	return collectParagraphs(scope)
}

// recallPass sweeps the unstripped document: every paragraph on the page
// plus whatever the comment containers hold.
func recallPass(doc *goquery.Document) []string {
	working := doc.Selection.Clone()
	working.Find("script, style, noscript, iframe, svg").Remove()

	out := collectParagraphs(working)
	for _, sel := range commentSelectors {
		working.Find(sel).Each(func(_ int, s *goquery.Selection) {
			out = append(out, collectParagraphs(s)...)
		})
	}
	return out
}

// collectParagraphs returns the cleaned text of each paragraph-like element,
// skipping stubs shorter than minParagraphChars. Nested matches (a <p>
// inside a <blockquote>) are folded by the dedup map.
func collectParagraphs(scope *goquery.Selection) []string {
	var out []string
	seen := make(map[string]bool)
	scope.Find(paragraphTags).Each(func(_ int, s *goquery.Selection) {
		// Container-ish tags yield to the <p> children they wrap.
		switch goquery.NodeName(s) {
		case "blockquote", "li":
			if s.Find("p").Length() > 0 {
				return
			}
		}
		text := collapseWhitespace(s.Text())
		if len(text) < minParagraphChars || seen[normalize(text)] {
			return
		}
		seen[normalize(text)] = true
		out = append(out, text)
	})
	return out
}

// metaDescription reads <meta name=description> falling back to
// og:description.
func metaDescription(doc *goquery.Document) string {
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		if d := collapseWhitespace(desc); d != "" {
			return d
		}
	}
	if desc, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
		return collapseWhitespace(desc)
	}
	return ""
}

// documentTitle prefers og:title over <title>.
func documentTitle(doc *goquery.Document) string {
	if title, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if t := collapseWhitespace(title); t != "" {
			return t
		}
	}
	return collapseWhitespace(doc.Find("title").First().Text())
}

// overlaps reports whether the description already appears in the body,
// either verbatim or as the body's opening.
func overlaps(desc, body string) bool {
	nd, nb := normalize(desc), normalize(body)
	if nd == "" || nb == "" {
		return nd == ""
	}
	if strings.Contains(nb, nd) {
		return true
	}
	// Truncated descriptions end in an ellipsis; compare the stem.
	stem := strings.TrimSuffix(strings.TrimSuffix(nd, "..."), "…")
	return len(stem) >= minParagraphChars && strings.Contains(nb, stem)
}

// truncateAtWord cuts text to at most max bytes, backing up to the last
// space so words stay whole.
func truncateAtWord(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if idx := strings.LastIndexByte(cut, ' '); idx > max/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}

// collapseWhitespace trims and folds all runs of whitespace to single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalize lowercases and collapses whitespace for overlap comparisons.
func normalize(s string) string {
	return strings.ToLower(collapseWhitespace(s))
}
