// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package content

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vigia-news/vigia/internal/config"
)

func testExtractor(minLength int) *Extractor {
	return New(&config.ContentConfig{
		MinLength: minLength,
		MaxLength: 50_000,
		Timeout:   5 * time.Second,
		UserAgent: "vigia-test/1.0",
		MinYear:   2018,
	})
}

// servePage returns a test server that serves the given HTML at every path.
func servePage(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const bodyPara = "A vítima foi encontrada na madrugada desta terça-feira no bairro Jangurussu, segundo a Secretaria da Segurança Pública."
const bodyPara2 = "Testemunhas relataram que dois homens em uma motocicleta se aproximaram da vítima e efetuaram os disparos antes de fugir."

func TestExtractMainContent(t *testing.T) {
	html := `<html><head><title>Homem morto a tiros - Portal</title></head><body>
<nav><ul><li>Navegação principal do site</li></ul></nav>
<article>
<p>` + bodyPara + `</p>
<p>` + bodyPara2 + `</p>
</article>
<footer><p>Todos os direitos reservados.</p></footer>
</body></html>`
	srv := servePage(t, html)

	art := testExtractor(50).Extract(context.Background(), srv.URL+"/noticia", nil)
	if art == nil {
		t.Fatal("Extract() = nil, want article")
	}
	if !strings.Contains(art.Text, bodyPara) || !strings.Contains(art.Text, bodyPara2) {
		t.Errorf("article text missing body paragraphs:\n%s", art.Text)
	}
	// Short furniture text stays below the recall-pass merge floor.
	if strings.Contains(art.Text, "direitos reservados") {
		t.Errorf("footer boilerplate leaked into article text:\n%s", art.Text)
	}
	if strings.Contains(art.Text, "Navegação principal") {
		t.Errorf("nav boilerplate leaked into article text:\n%s", art.Text)
	}
	if art.Title != "Homem morto a tiros - Portal" {
		t.Errorf("Title = %q", art.Title)
	}
}

func TestExtractRecallPassMergesComments(t *testing.T) {
	comment := "Moro perto do local e ouvi os tiros por volta das três da manhã, foram muitos disparos em sequência."
	html := `<html><body>
<article><p>` + bodyPara + `</p></article>
<div id="comments"><div class="comment"><p>` + comment + `</p></div></div>
</body></html>`
	srv := servePage(t, html)

	art := testExtractor(50).Extract(context.Background(), srv.URL, nil)
	if art == nil {
		t.Fatal("Extract() = nil, want article")
	}
	if !strings.Contains(art.Text, comment) {
		t.Errorf("recall pass did not merge comment text:\n%s", art.Text)
	}
	// The main paragraph must not be duplicated by the recall pass.
	if strings.Count(art.Text, bodyPara) != 1 {
		t.Errorf("main paragraph merged twice:\n%s", art.Text)
	}
}

func TestExtractPrependsDescription(t *testing.T) {
	desc := "Crime aconteceu na zona sul de Fortaleza e ninguém foi preso até o momento, diz a polícia militar."
	html := `<html><head><meta name="description" content="` + desc + `"></head><body>
<article><p>` + bodyPara + `</p></article>
</body></html>`
	srv := servePage(t, html)

	art := testExtractor(50).Extract(context.Background(), srv.URL, nil)
	if art == nil {
		t.Fatal("Extract() = nil, want article")
	}
	if !strings.HasPrefix(art.Text, desc) {
		t.Errorf("description not prepended:\n%s", art.Text)
	}
}

func TestExtractSkipsOverlappingDescription(t *testing.T) {
	html := `<html><head><meta property="og:description" content="` + bodyPara + `"></head><body>
<article><p>` + bodyPara + `</p><p>` + bodyPara2 + `</p></article>
</body></html>`
	srv := servePage(t, html)

	art := testExtractor(50).Extract(context.Background(), srv.URL, nil)
	if art == nil {
		t.Fatal("Extract() = nil, want article")
	}
	if strings.Count(art.Text, bodyPara) != 1 {
		t.Errorf("overlapping description duplicated body text:\n%s", art.Text)
	}
}

func TestExtractTooShort(t *testing.T) {
	srv := servePage(t, `<html><body><article><p>`+bodyPara+`</p></article></body></html>`)

	if art := testExtractor(10_000).Extract(context.Background(), srv.URL, nil); art != nil {
		t.Errorf("Extract() below min length = %+v, want nil", art)
	}
}

func TestExtractTruncatesAtMaxLength(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body><article>")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "<p>Parágrafo número %d com conteúdo repetido para encher o corpo da matéria além do limite.</p>", i)
	}
	sb.WriteString("</article></body></html>")
	srv := servePage(t, sb.String())

	e := New(&config.ContentConfig{
		MinLength: 50,
		MaxLength: 1000,
		Timeout:   5 * time.Second,
		UserAgent: "vigia-test/1.0",
		MinYear:   2018,
	})
	art := e.Extract(context.Background(), srv.URL, nil)
	if art == nil {
		t.Fatal("Extract() = nil, want truncated article")
	}
	if len(art.Text) > 1000 {
		t.Errorf("text length %d exceeds max 1000", len(art.Text))
	}
	if strings.HasSuffix(art.Text, " ") {
		t.Error("truncation left trailing whitespace")
	}
}

func TestExtractHTTPFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"not found", http.StatusNotFound},
		{"server error", http.StatusInternalServerError},
		{"gone", http.StatusGone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			if art := testExtractor(50).Extract(context.Background(), srv.URL, nil); art != nil {
				t.Errorf("Extract() on status %d = %+v, want nil", tt.status, art)
			}
		})
	}
}

func TestExtractUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if art := testExtractor(50).Extract(context.Background(), url, nil); art != nil {
		t.Errorf("Extract() on unreachable host = %+v, want nil", art)
	}
}

func TestExtractSendsBrowserUA(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><body><article><p>%s</p><p>%s</p></article></body></html>", bodyPara, bodyPara2)
	}))
	defer srv.Close()

	testExtractor(50).Extract(context.Background(), srv.URL, nil)
	if gotUA != "vigia-test/1.0" {
		t.Errorf("User-Agent = %q, want configured value", gotUA)
	}
}

func TestPublishedAtFromJSONLD(t *testing.T) {
	html := `<html><head>
<script type="application/ld+json">{"@type":"NewsArticle","datePublished":"2026-08-11T22:15:00-03:00"}</script>
</head><body><article><p>` + bodyPara + `</p><p>` + bodyPara2 + `</p></article></body></html>`
	srv := servePage(t, html)

	art := testExtractor(50).Extract(context.Background(), srv.URL, nil)
	if art == nil || art.PublishedAt == nil {
		t.Fatal("PublishedAt = nil, want ld+json date")
	}
	want := time.Date(2026, 8, 12, 1, 15, 0, 0, time.UTC)
	if !art.PublishedAt.Equal(want) {
		t.Errorf("PublishedAt = %v, want %v", art.PublishedAt, want)
	}
}

func TestPublishedAtFromMetaTag(t *testing.T) {
	html := `<html><head>
<meta property="article:published_time" content="2026-08-10T08:30:00Z">
</head><body><article><p>` + bodyPara + `</p><p>` + bodyPara2 + `</p></article></body></html>`
	srv := servePage(t, html)

	art := testExtractor(50).Extract(context.Background(), srv.URL, nil)
	if art == nil || art.PublishedAt == nil {
		t.Fatal("PublishedAt = nil, want meta tag date")
	}
	want := time.Date(2026, 8, 10, 8, 30, 0, 0, time.UTC)
	if !art.PublishedAt.Equal(want) {
		t.Errorf("PublishedAt = %v, want %v", art.PublishedAt, want)
	}
}

func TestPublishedAtFallsBackToFeed(t *testing.T) {
	srv := servePage(t, `<html><body><article><p>`+bodyPara+`</p><p>`+bodyPara2+`</p></article></body></html>`)

	feedTime := time.Date(2026, 8, 9, 13, 0, 0, 0, time.UTC)
	art := testExtractor(50).Extract(context.Background(), srv.URL, &feedTime)
	if art == nil || art.PublishedAt == nil {
		t.Fatal("PublishedAt = nil, want feed fallback")
	}
	if !art.PublishedAt.Equal(feedTime) {
		t.Errorf("PublishedAt = %v, want feed time %v", art.PublishedAt, feedTime)
	}
}

func TestPublishedAtRejectsImplausible(t *testing.T) {
	future := time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339)

	tests := []struct {
		name string
		meta string
	}{
		{"future date", `<meta property="article:published_time" content="` + future + `">`},
		{"before year floor", `<meta property="article:published_time" content="2009-05-01T00:00:00Z">`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			html := `<html><head>` + tt.meta + `</head><body><article><p>` +
				bodyPara + `</p><p>` + bodyPara2 + `</p></article></body></html>`
			srv := servePage(t, html)

			art := testExtractor(50).Extract(context.Background(), srv.URL, nil)
			if art == nil {
				t.Fatal("Extract() = nil, want article with nil PublishedAt")
			}
			if art.PublishedAt != nil {
				t.Errorf("PublishedAt = %v, want nil", art.PublishedAt)
			}
		})
	}
}

func TestURLDate(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string // YYYY-MM-DD, empty means nil
	}{
		{"slash path", "https://g1.globo.com/ce/ceara/noticia/2026/08/12/homem-morto.ghtml", "2026-08-12"},
		{"dashed", "https://pub.example/noticias/2026-08-03-chacina-na-zona-sul", "2026-08-03"},
		{"compact", "https://pub.example/n/materia_20260715.html", "2026-07-15"},
		{"no date", "https://pub.example/noticias/homem-morto", ""},
		{"implausible month", "https://pub.example/2026/13/40/x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := urlDate(tt.url)
			if tt.want == "" {
				if got != nil {
					t.Errorf("urlDate(%q) = %v, want nil", tt.url, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("urlDate(%q) = nil, want %s", tt.url, tt.want)
			}
			if got.Format("2006-01-02") != tt.want {
				t.Errorf("urlDate(%q) = %s, want %s", tt.url, got.Format("2006-01-02"), tt.want)
			}
		})
	}
}

func TestParseDateValue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"rfc3339", "2026-08-11T22:15:00-03:00", true},
		{"date only", "2026-08-11", true},
		{"pt-br slash", "11/08/2026", true},
		{"pt-br slash with time", "11/08/2026 22:15", true},
		{"empty", "", false},
		{"words", "ontem à noite", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDateValue(tt.in)
			if (got != nil) != tt.ok {
				t.Errorf("parseDateValue(%q) = %v, want ok=%v", tt.in, got, tt.ok)
			}
		})
	}
}

func TestDecodeJSONLDShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"bare object", `{"@type":"NewsArticle","datePublished":"2026-01-05"}`, "2026-01-05"},
		{"array", `[{"@type":"Org"},{"@type":"NewsArticle","datePublished":"2026-01-06"}]`, "2026-01-06"},
		{"graph", `{"@graph":[{"@type":"NewsArticle","datePublished":"2026-01-07"}]}`, "2026-01-07"},
		{"garbage", `{not json`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := decodeJSONLD(tt.raw)
			var got string
			for _, b := range blocks {
				if b.DatePublished != "" {
					got = b.DatePublished
					break
				}
			}
			if got != tt.want {
				t.Errorf("decodeJSONLD(%q) datePublished = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCharsetDecoding(t *testing.T) {
	// ISO-8859-1 encoded body: "coração" with latin-1 bytes.
	latin1 := []byte("<html><body><article><p>Um homem foi baleado no cora\xe7\xe3o do bairro e morreu no local, disse a pol\xedcia militar na manh\xe3 desta quarta.</p><p>" + bodyPara2 + "</p></article></body></html>")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write(latin1)
	}))
	defer srv.Close()

	art := testExtractor(50).Extract(context.Background(), srv.URL, nil)
	if art == nil {
		t.Fatal("Extract() = nil, want article")
	}
	if !strings.Contains(art.Text, "coração") || !strings.Contains(art.Text, "polícia") {
		t.Errorf("latin-1 text not decoded to UTF-8:\n%s", art.Text)
	}
}

func TestTruncateAtWord(t *testing.T) {
	in := "palavra " + strings.Repeat("texto ", 50)
	out := truncateAtWord(in, 100)
	if len(out) > 100 {
		t.Errorf("len = %d, want <= 100", len(out))
	}
	if strings.HasSuffix(out, "tex") {
		t.Errorf("word split mid-token: %q", out)
	}
}
