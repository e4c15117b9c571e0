// Package edital は試験実施機関（banca）のサイトから公示フィードを検出・登録し、
// 取得した公示（edital）を保存・一覧する。
package edital

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/security"
)

// UserAgent は外部サイトへのリクエストに付与するUser-Agent。
const UserAgent = "Concurseiro/1.0 (+editais)"

// FeedKind はフィードの形式。
type FeedKind string

const (
	FeedKindRSS  FeedKind = "rss"
	FeedKindAtom FeedKind = "atom"
)

// Candidate はHTMLの <link rel="alternate"> から見つかったフィード候補。
type Candidate struct {
	URL   string
	Kind  FeedKind
	Title string
}

// Detector は入力URLがフィードそのものか、フィードを告知するHTMLかを判定する。
type Detector struct {
	guard       security.URLGuard
	timeout     time.Duration
	maxBodySize int64
}

// NewDetector はDetectorを生成する。
func NewDetector(guard security.URLGuard, timeout time.Duration, maxBodySize int64) *Detector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxBodySize <= 0 {
		maxBodySize = 5 << 20
	}
	return &Detector{guard: guard, timeout: timeout, maxBodySize: maxBodySize}
}

var (
	feedMediaTypes = map[string]FeedKind{
		"application/rss+xml":  FeedKindRSS,
		"application/atom+xml": FeedKindAtom,
	}
	genericXMLTypes = map[string]bool{
		"text/xml":        true,
		"application/xml": true,
	}
)

func mediaTypeOf(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mt)
}

// IsFeed はContent-Typeと本文の先頭からRSS/Atomかを判定する。
// 汎用XMLの場合はルート要素を確認する。
func IsFeed(contentType string, body []byte) bool {
	mt := mediaTypeOf(contentType)
	if _, ok := feedMediaTypes[mt]; ok {
		return true
	}
	if !genericXMLTypes[mt] || len(body) == 0 {
		return false
	}

	head := body
	if len(head) > 4096 {
		head = head[:4096]
	}
	s := strings.ToLower(string(head))
	switch {
	case strings.Contains(s, "<rss"), strings.Contains(s, "<rdf:rdf"):
		return true
	case strings.Contains(s, "<feed") && strings.Contains(s, "http://www.w3.org/2005/atom"):
		return true
	}
	return false
}

// FindCandidates はHTMLの head からフィードへのリンクを抽出する。相対URLはbaseURLで解決する。
func FindCandidates(body []byte, baseURL string) []Candidate {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var out []Candidate
	z := html.NewTokenizer(bytes.NewReader(body))
	inHead := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return out
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "head":
				inHead = true
				continue
			case "body":
				return out
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}

			var rel, typ, href, title string
			for more := true; more; {
				var k, v []byte
				k, v, more = z.TagAttr()
				switch strings.ToLower(string(k)) {
				case "rel":
					rel = strings.ToLower(string(v))
				case "type":
					typ = strings.ToLower(string(v))
				case "href":
					href = string(v)
				case "title":
					title = string(v)
				}
			}

			kind, ok := feedMediaTypes[typ]
			if !ok || href == "" || !hasRel(rel, "alternate") {
				continue
			}
			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			out = append(out, Candidate{URL: base.ResolveReference(ref).String(), Kind: kind, Title: title})
		}
	}
}

func hasRel(rel, want string) bool {
	for _, r := range strings.Fields(rel) {
		if r == want {
			return true
		}
	}
	return false
}

// SelectBest は候補から1つを選ぶ。同一ホストを優先し、次にAtom、同点なら先頭。
func SelectBest(candidates []Candidate, inputURL string) *Candidate {
	if len(candidates) == 0 {
		return nil
	}
	inputHost := hostOf(inputURL)

	best, bestScore := 0, -1
	for i, c := range candidates {
		score := 0
		if hostOf(c.URL) == inputHost {
			score += 100
		}
		if c.Kind == FeedKindAtom {
			score += 10
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return &candidates[best]
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Detect は入力URLからフィードURLを特定する。
// 入力がフィードならそのまま返し、HTMLなら告知されたフィードから選ぶ。
func (d *Detector) Detect(ctx context.Context, inputURL string) (string, error) {
	inputURL = strings.TrimSpace(inputURL)
	if inputURL == "" {
		return "", model.NewInvalidURLError("URL não informada")
	}
	if err := d.guard.ValidateURL(inputURL); err != nil {
		return "", model.NewSSRFBlockedError()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inputURL, nil)
	if err != nil {
		return "", model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.1")

	resp, err := d.guard.NewSafeClient(d.timeout).Do(req)
	if err != nil {
		return "", model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", model.NewFetchFailedError(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBodySize))
	if err != nil {
		return "", model.NewFetchFailedError(err.Error())
	}

	contentType := resp.Header.Get("Content-Type")
	if IsFeed(contentType, body) {
		return inputURL, nil
	}
	if !strings.Contains(mediaTypeOf(contentType), "html") {
		return "", model.NewFeedNotDetectedError(inputURL)
	}

	best := SelectBest(FindCandidates(body, inputURL), inputURL)
	if best == nil {
		return "", model.NewFeedNotDetectedError(inputURL)
	}
	if err := d.guard.ValidateURL(best.URL); err != nil {
		return "", model.NewSSRFBlockedError()
	}
	return best.URL, nil
}
