// Package security はHTMLサニタイズとSSRF防止を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// HTMLSanitizer はユーザー・管理者・外部フィード由来のHTMLを安全化する。
type HTMLSanitizer interface {
	// Rich は設問文やフラッシュカード本文向けに書式タグを残してサニタイズする。
	Rich(rawHTML string) string
	// Plain は全てのタグを除去し、前後の空白を取り除いたテキストを返す。
	// 出力はHTMLエスケープされない。
	Plain(raw string) string
}

// Sanitizer は bluemonday のポリシーを2種類保持する HTMLSanitizer 実装。
// ポリシーは生成後に変更しないため並行利用できる。
type Sanitizer struct {
	rich  *bluemonday.Policy
	plain *bluemonday.Policy
}

// NewSanitizer は Sanitizer を生成する。
//
// Rich ポリシー:
//   - 書式: p, br, strong, em, u, s, sub, sup, blockquote, pre, code
//   - リスト・表: ul, ol, li, table, thead, tbody, tr, th, td
//   - a[href] と img[src, alt] は https のみ。リンクには target="_blank" と rel="noopener noreferrer" を付与
//   - script, style, iframe と on* 属性は許可リスト外のため除去される
func NewSanitizer() *Sanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements(
		"p", "br", "strong", "em", "u", "s", "sub", "sup",
		"blockquote", "pre", "code",
		"ul", "ol", "li",
		"table", "thead", "tbody", "tr", "th", "td",
	)
	rich.AllowAttrs("colspan", "rowspan").Matching(bluemonday.Integer).OnElements("th", "td")
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowAttrs("src", "alt").OnElements("img")
	rich.AllowURLSchemes("https")
	rich.AllowRelativeURLs(false)
	rich.RequireParseableURLs(true)
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)

	return &Sanitizer{
		rich:  rich,
		plain: bluemonday.StrictPolicy(),
	}
}

// Rich は設問文やフラッシュカード本文向けに書式タグを残してサニタイズする。
func (s *Sanitizer) Rich(rawHTML string) string {
	return strings.TrimSpace(s.rich.Sanitize(rawHTML))
}

// Plain は全てのタグを除去したテキストを返す。
// StrictPolicy がエスケープした実体参照は JSON で返すため元に戻す。
func (s *Sanitizer) Plain(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.plain.Sanitize(raw)))
}

var _ HTMLSanitizer = (*Sanitizer)(nil)
