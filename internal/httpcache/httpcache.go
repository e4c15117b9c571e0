// Package httpcache はレスポンスの検証子（ETag / Last-Modified）の生成と
// 条件付きGET（If-None-Match / If-Modified-Since）の評価を行う。
package httpcache

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Validators はレスポンスの検証子。
type Validators struct {
	ETag         string
	LastModified time.Time
}

// ComputeETag はレスポンスボディから強いETagを生成する。
func ComputeETag(body []byte) string {
	return `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
}

// NotModified はリクエストの条件付きヘッダーが検証子と一致するかを判定する。
// If-None-Match が存在する場合は If-Modified-Since を無視する（RFC 9110 13.2.2）。
func NotModified(r *http.Request, v Validators) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		return etagMatches(inm, v.ETag)
	}

	ims := r.Header.Get("If-Modified-Since")
	if ims == "" || v.LastModified.IsZero() {
		return false
	}
	since, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	// HTTP日付は秒精度
	return !v.LastModified.Truncate(time.Second).After(since)
}

// etagMatches は If-None-Match のリストに対して弱い比較を行う。
func etagMatches(header, etag string) bool {
	if etag == "" {
		return false
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == want {
			return true
		}
	}
	return false
}

// SetHeaders は検証子とキャッシュ制御ヘッダーを設定する。
// クライアントは保存したレスポンスを毎回再検証する前提のため no-cache を付与する。
func SetHeaders(w http.ResponseWriter, v Validators) {
	h := w.Header()
	if v.ETag != "" {
		h.Set("ETag", v.ETag)
	}
	if !v.LastModified.IsZero() {
		h.Set("Last-Modified", v.LastModified.UTC().Format(http.TimeFormat))
	}
	h.Set("Cache-Control", "private, no-cache")
	h.Add("Vary", "Cookie")
}

// Serve はJSONボディを条件付きGETとして応答し、HTTPステータスを返す。
// 検証子が一致した場合はボディなしで304を返す。
func Serve(w http.ResponseWriter, r *http.Request, body []byte, lastModified time.Time) int {
	v := Validators{ETag: ComputeETag(body), LastModified: lastModified}
	SetHeaders(w, v)

	if NotModified(r, v) {
		w.WriteHeader(http.StatusNotModified)
		return http.StatusNotModified
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
	return http.StatusOK
}
