package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name            string
		allowedHosts    []string
		method          string
		path            string
		origin          string
		wantStatus      int
		wantNext        bool
		wantOrigin      string
		wantCredentials bool
	}{
		{
			name:       "no allowed hosts accepts any origin without credentials",
			method:     http.MethodGet,
			path:       "/api/accounts/display",
			origin:     "http://any-origin.com",
			wantStatus: http.StatusOK,
			wantNext:   true,
			wantOrigin: "*",
		},
		{
			name:            "allowed origin is echoed with credentials",
			allowedHosts:    []string{"app.example.com"},
			method:          http.MethodGet,
			path:            "/api/ledger",
			origin:          "https://app.example.com",
			wantStatus:      http.StatusOK,
			wantNext:        true,
			wantOrigin:      "https://app.example.com",
			wantCredentials: true,
		},
		{
			name:            "allowed host matches an origin on another port",
			allowedHosts:    []string{"localhost"},
			method:          http.MethodPatch,
			path:            "/api/ledger/7",
			origin:          "http://localhost:3000",
			wantStatus:      http.StatusOK,
			wantNext:        true,
			wantOrigin:      "http://localhost:3000",
			wantCredentials: true,
		},
		{
			name:            "ipv6 origin",
			allowedHosts:    []string{"::1"},
			method:          http.MethodGet,
			path:            "/api/ledger",
			origin:          "http://[::1]:5173",
			wantStatus:      http.StatusOK,
			wantNext:        true,
			wantOrigin:      "http://[::1]:5173",
			wantCredentials: true,
		},
		{
			name:         "foreign origin is rejected before the handler",
			allowedHosts: []string{"app.example.com"},
			method:       http.MethodPost,
			path:         "/api/ledger",
			origin:       "https://evil.com",
			wantStatus:   http.StatusForbidden,
		},
		{
			name:         "subdomain is not the allowed host",
			allowedHosts: []string{"example.com"},
			method:       http.MethodGet,
			path:         "/api/ledger",
			origin:       "https://app.example.com",
			wantStatus:   http.StatusForbidden,
		},
		{
			name:            "preflight from allowed origin",
			allowedHosts:    []string{"app.example.com"},
			method:          http.MethodOptions,
			path:            "/api/ledger/7",
			origin:          "https://app.example.com",
			wantStatus:      http.StatusNoContent,
			wantOrigin:      "https://app.example.com",
			wantCredentials: true,
		},
		{
			name:         "preflight from foreign origin",
			allowedHosts: []string{"app.example.com"},
			method:       http.MethodOptions,
			path:         "/api/ledger/7",
			origin:       "https://evil.com",
			wantStatus:   http.StatusForbidden,
		},
		{
			name:         "health skips the origin check",
			allowedHosts: []string{"app.example.com"},
			method:       http.MethodGet,
			path:         "/health",
			origin:       "http://monitor.internal",
			wantStatus:   http.StatusOK,
			wantNext:     true,
			wantOrigin:   "*",
		},
		{
			name:         "request without origin passes untouched",
			allowedHosts: []string{"app.example.com"},
			method:       http.MethodDelete,
			path:         "/api/ledger/7",
			wantStatus:   http.StatusOK,
			wantNext:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			CORS(tt.allowedHosts)(next).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if called != tt.wantNext {
				t.Errorf("next called = %v, want %v", called, tt.wantNext)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rr.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCredentials {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.wantCredentials)
			}
			if tt.wantCredentials && rr.Header().Get("Vary") != "Origin" {
				t.Errorf("Vary = %q, want Origin", rr.Header().Get("Vary"))
			}
		})
	}
}

func TestCORS_AllowsLedgerMethods(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/ledger/7", nil)
	CORS(nil)(http.NotFoundHandler()).ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PATCH, DELETE, OPTIONS" {
		t.Errorf("Allow-Methods = %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, Authorization" {
		t.Errorf("Allow-Headers = %q", got)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	tests := []struct {
		origin string
		hosts  []string
		want   bool
	}{
		{"https://App.Example.com", []string{"app.example.com"}, true},
		{"https://app.example.com:8443", []string{"app.example.com:8443"}, true},
		{"https://app.example.com", []string{" app.example.com "}, true},
		{"http://[::1]:3000", []string{"[::1]"}, true},
		{"app.example.com", []string{"app.example.com"}, false},
		{"://broken", []string{"app.example.com"}, false},
		{"https://app.example.com.evil.com", []string{"app.example.com"}, false},
	}

	for _, tt := range tests {
		if got := isOriginAllowed(tt.origin, tt.hosts); got != tt.want {
			t.Errorf("isOriginAllowed(%q, %v) = %v, want %v", tt.origin, tt.hosts, got, tt.want)
		}
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name   string
		hosts  []string
		origin string
		want   bool
	}{
		{"no origin", []string{"app.example.com"}, "", true},
		{"no allowed hosts", nil, "https://anything.test", true},
		{"allowed", []string{"app.example.com"}, "https://app.example.com", true},
		{"allowed on other port", []string{"app.example.com"}, "https://app.example.com:8443", true},
		{"padded origin", []string{"app.example.com"}, " https://app.example.com ", true},
		{"foreign", []string{"app.example.com"}, "https://evil.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/ledger/stream", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := OriginChecker(tt.hosts)(req); got != tt.want {
				t.Errorf("OriginChecker(%v)(%q) = %v, want %v", tt.hosts, tt.origin, got, tt.want)
			}
		})
	}
}
