package daemon

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenAuthMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw := TokenAuthMiddleware("secret", handler)

	cases := []struct {
		name       string
		path       string
		authHeader string
		wantStatus int
	}{
		{name: "health-no-auth", path: "/health", wantStatus: http.StatusOK},
		{name: "api-no-auth", path: "/api/sessions", wantStatus: http.StatusUnauthorized},
		{name: "api-wrong-token", path: "/api/sessions", authHeader: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "api-correct-token", path: "/api/sessions", authHeader: "Bearer secret", wantStatus: http.StatusOK},
		{name: "api-query-token", path: "/api/observe?token=secret", wantStatus: http.StatusOK},
		{name: "api-wrong-query-token", path: "/api/observe?token=nope", wantStatus: http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", tc.path, nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			mw.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("%s: status = %d, want %d", tc.path, rec.Code, tc.wantStatus)
			}
		})
	}
}
