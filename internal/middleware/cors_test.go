package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORSMiddleware_Preflight(t *testing.T) {
	h := NewCORSMiddleware("https://app.concurseiro.example")(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/flashcards", nil)
	req.Header.Set("Origin", "https://app.concurseiro.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-CSRF-Token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.concurseiro.example" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("credentials が許可されていない")
	}
	if !strings.Contains(strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), "x-csrf-token") {
		t.Errorf("Allow-Headers = %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestCORSMiddleware_ExposesValidators(t *testing.T) {
	h := NewCORSMiddleware("https://app.concurseiro.example")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/concursos/c1/simulados", nil)
	req.Header.Set("Origin", "https://app.concurseiro.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	exposed := rec.Header().Get("Access-Control-Expose-Headers")
	if !strings.Contains(exposed, "Etag") && !strings.Contains(exposed, "ETag") {
		t.Errorf("Expose-Headers = %q", exposed)
	}
}

func TestCORSMiddleware_OtherOrigin(t *testing.T) {
	h := NewCORSMiddleware("https://app.concurseiro.example")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("許可外オリジンにAllow-Originを返してはならない: %q", got)
	}
}
