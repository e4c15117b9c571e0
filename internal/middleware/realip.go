package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// NewRealIPMiddleware は信頼済みプロキシから届いたリクエストに限り、
// X-Forwarded-For / X-Real-IP からクライアントIPを復元して RemoteAddr を書き換える。
// それ以外の接続元ではヘッダーを無視する。
func NewRealIPMiddleware(trusted []netip.Prefix) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, port, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host, port = r.RemoteAddr, ""
			}
			peer, err := netip.ParseAddr(host)
			if err != nil || !isTrusted(trusted, peer.Unmap()) {
				next.ServeHTTP(w, r)
				return
			}

			if client, ok := forwardedClient(r.Header, trusted); ok {
				r.RemoteAddr = net.JoinHostPort(client.String(), port)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedClient は X-Forwarded-For を右から辿り、最初の信頼済みでないアドレスを返す。
// 見つからなければ X-Real-IP を使う。
func forwardedClient(h http.Header, trusted []netip.Prefix) (netip.Addr, bool) {
	var hops []string
	for _, v := range h.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		addr = addr.Unmap()
		if !isTrusted(trusted, addr) {
			return addr, true
		}
	}

	if addr, err := netip.ParseAddr(strings.TrimSpace(h.Get("X-Real-IP"))); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}

func isTrusted(trusted []netip.Prefix, addr netip.Addr) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
