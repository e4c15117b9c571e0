package edital

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/concurseiro/internal/model"
)

func TestIsFeed(t *testing.T) {
	rss := []byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>Editais</title></channel></rss>`)
	atom := []byte(`<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"><title>Editais</title></feed>`)
	htmlInXML := []byte(`<?xml version="1.0"?><html><head><title>x</title></head></html>`)

	tests := []struct {
		name        string
		contentType string
		body        []byte
		want        bool
	}{
		{"rss content type", "application/rss+xml", nil, true},
		{"atom content type", "application/atom+xml", nil, true},
		{"charset付き", "application/rss+xml; charset=utf-8", nil, true},
		{"text/xml + rss", "text/xml", rss, true},
		{"application/xml + atom", "application/xml", atom, true},
		{"text/xml + html", "text/xml", htmlInXML, false},
		{"html", "text/html", rss, false},
		{"空のxml", "text/xml", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFeed(tt.contentType, tt.body); got != tt.want {
				t.Errorf("IsFeed(%q) = %v, want %v", tt.contentType, got, tt.want)
			}
		})
	}
}

func TestFindCandidates(t *testing.T) {
	page := []byte(`<!doctype html><html><head>
<title>Banca</title>
<link rel="stylesheet" href="/style.css">
<link rel="alternate" type="application/rss+xml" title="Editais RSS" href="/editais.rss">
<link rel="alternate" type="application/atom+xml" href="https://cdn.example.org/editais.atom">
<link rel="canonical" type="application/rss+xml" href="/ignorado.rss">
</head><body>
<link rel="alternate" type="application/rss+xml" href="/no-body.rss">
</body></html>`)

	got := FindCandidates(page, "https://banca.example.com/concursos/")
	if len(got) != 2 {
		t.Fatalf("候補数 = %d, want 2: %+v", len(got), got)
	}
	if got[0].URL != "https://banca.example.com/editais.rss" || got[0].Kind != FeedKindRSS || got[0].Title != "Editais RSS" {
		t.Errorf("1件目 = %+v", got[0])
	}
	if got[1].URL != "https://cdn.example.org/editais.atom" || got[1].Kind != FeedKindAtom {
		t.Errorf("2件目 = %+v", got[1])
	}
}

func TestFindCandidates_NoLinks(t *testing.T) {
	got := FindCandidates([]byte(`<html><head><title>x</title></head><body></body></html>`), "https://example.com")
	if len(got) != 0 {
		t.Errorf("候補なしを期待: %+v", got)
	}
}

func TestSelectBest(t *testing.T) {
	candidates := []Candidate{
		{URL: "https://other.example.org/a.atom", Kind: FeedKindAtom},
		{URL: "https://banca.example.com/a.rss", Kind: FeedKindRSS},
		{URL: "https://banca.example.com/b.atom", Kind: FeedKindAtom},
		{URL: "https://banca.example.com/c.atom", Kind: FeedKindAtom},
	}
	best := SelectBest(candidates, "https://banca.example.com/")
	if best == nil || best.URL != "https://banca.example.com/b.atom" {
		t.Errorf("SelectBest = %+v", best)
	}
	if SelectBest(nil, "https://banca.example.com/") != nil {
		t.Error("空の候補ではnilを返すべき")
	}
}

func TestDetect_DirectFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, `<rss version="2.0"><channel><title>Editais</title></channel></rss>`)
	}))
	defer server.Close()

	d := NewDetector(&mockGuard{}, 0, 0)
	got, err := d.Detect(context.Background(), server.URL+"/feed.xml")
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if got != server.URL+"/feed.xml" {
		t.Errorf("Detect = %s", got)
	}
}

func TestDetect_HTMLWithRelativeLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><link rel="alternate" type="application/atom+xml" href="/editais.atom"></head><body></body></html>`)
	}))
	defer server.Close()

	d := NewDetector(&mockGuard{}, 0, 0)
	got, err := d.Detect(context.Background(), server.URL+"/concursos")
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if got != server.URL+"/editais.atom" {
		t.Errorf("Detect = %s", got)
	}
}

func TestDetect_HTMLWithoutFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>sem feed</title></head></html>`)
	}))
	defer server.Close()

	d := NewDetector(&mockGuard{}, 0, 0)
	_, err := d.Detect(context.Background(), server.URL)
	assertCode(t, err, model.ErrCodeFeedNotDetected)
}

func TestDetect_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	d := NewDetector(&mockGuard{}, 0, 0)
	_, err := d.Detect(context.Background(), server.URL)
	assertCode(t, err, model.ErrCodeFetchFailed)
}

func TestDetect_SSRFBlocked(t *testing.T) {
	guard := &mockGuard{validateFunc: func(string) error { return errors.New("blocked") }}
	d := NewDetector(guard, 0, 0)
	_, err := d.Detect(context.Background(), "http://10.0.0.1/feed")
	assertCode(t, err, model.ErrCodeSSRFBlocked)
}

func TestDetect_CandidateBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><link rel="alternate" type="application/rss+xml" href="http://169.254.169.254/rss"></head></html>`)
	}))
	defer server.Close()

	guard := &mockGuard{validateFunc: func(raw string) error {
		if strings.Contains(raw, "169.254") {
			return errors.New("blocked")
		}
		return nil
	}}
	d := NewDetector(guard, 0, 0)
	_, err := d.Detect(context.Background(), server.URL)
	assertCode(t, err, model.ErrCodeSSRFBlocked)
}

func TestDetect_EmptyURL(t *testing.T) {
	d := NewDetector(&mockGuard{}, 0, 0)
	_, err := d.Detect(context.Background(), "  ")
	assertCode(t, err, model.ErrCodeInvalidURL)
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorを期待: %v", err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %s, want %s", apiErr.Code, code)
	}
}
