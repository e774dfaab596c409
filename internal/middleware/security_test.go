package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeadersMiddleware(t *testing.T) {
	for _, secure := range []bool{false, true} {
		h := NewSecurityHeadersMiddleware(secure).Handler(okHandler)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/stats", nil))

		for header, want := range map[string]string{
			"X-Content-Type-Options": "nosniff",
			"X-Frame-Options":        "DENY",
			"Cache-Control":          "no-store",
		} {
			if got := rec.Header().Get(header); got != want {
				t.Errorf("%s = %q, want %q", header, got, want)
			}
		}

		hsts := rec.Header().Get("Strict-Transport-Security")
		if secure && hsts == "" {
			t.Error("HSTS should be set when secure")
		}
		if !secure && hsts != "" {
			t.Error("HSTS should not be set when not secure")
		}
	}
}
