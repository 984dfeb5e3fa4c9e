package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestHeadersMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(HeadersMiddleware())
	router.GET("/test", func(c *gin.Context) {
		c.String(200, "ok")
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Check security headers
	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}

	for header, expected := range headers {
		if got := w.Header().Get(header); got != expected {
			t.Errorf("%s = %q, want %q", header, got, expected)
		}
	}

	// Check CSP is set
	if csp := w.Header().Get("Content-Security-Policy"); csp == "" {
		t.Error("Content-Security-Policy header not set")
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		allowedOrigins []string
		requestOrigin  string
		expectHeader   bool
	}{
		{
			name:           "allowed origin",
			allowedOrigins: []string{"https://example.com"},
			requestOrigin:  "https://example.com",
			expectHeader:   true,
		},
		{
			name:           "wildcard allows all",
			allowedOrigins: []string{"*"},
			requestOrigin:  "https://anything.com",
			expectHeader:   true,
		},
		{
			name:           "disallowed origin",
			allowedOrigins: []string{"https://example.com"},
			requestOrigin:  "https://evil.com",
			expectHeader:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.Use(CORSMiddleware(tc.allowedOrigins))
			router.GET("/test", func(c *gin.Context) {
				c.String(200, "ok")
			})

			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Origin", tc.requestOrigin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			hasHeader := w.Header().Get("Access-Control-Allow-Origin") != ""
			if hasHeader != tc.expectHeader {
				t.Errorf("CORS header present = %v, want %v", hasHeader, tc.expectHeader)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(CORSMiddleware([]string{"*"}))
	router.GET("/test", func(c *gin.Context) {
		c.String(200, "ok")
	})

	req := httptest.NewRequest("OPTIONS", "/test", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}

	if methods := w.Header().Get("Access-Control-Allow-Methods"); methods == "" {
		t.Error("Access-Control-Allow-Methods not set")
	}
}

func TestCORSAllowsMerchantHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(CORSMiddleware(nil))
	router.POST("/v1/payments/route", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("OPTIONS", "/v1/payments/route", nil)
	req.Header.Set("Origin", "https://merchant.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "X-Merchant-ID") {
		t.Errorf("Allow-Headers = %q, want X-Merchant-ID included", w.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestValidateEndpointURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr string
	}{
		{"https://8.8.8.8/charge", ""},
		{"ftp://8.8.8.8/charge", "scheme"},
		{"https:///charge", "host"},
		{"http://localhost:9000/charge", "not allowed"},
		{"http://127.0.0.1/charge", "loopback"},
		{"https://10.1.2.3/charge", "private"},
		{"https://169.254.169.254/latest", "link-local"},
		{"https://0.0.0.0/charge", "unspecified"},
	}
	for _, tt := range tests {
		err := ValidateEndpointURL(tt.url)
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.url, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("%s: error = %v, want containing %q", tt.url, err, tt.wantErr)
		}
	}
}

func TestEndpointPolicy(t *testing.T) {
	resolveTo := func(addrs ...string) func(string) ([]string, error) {
		return func(string) ([]string, error) { return addrs, nil }
	}

	tests := []struct {
		name    string
		policy  EndpointPolicy
		url     string
		wantErr string
	}{
		{"private processor allowed", EndpointPolicy{AllowPrivate: true}, "http://10.0.0.5:8080/charge", ""},
		{"https required", EndpointPolicy{RequireHTTPS: true, AllowPrivate: true}, "http://10.0.0.5/charge", "https"},
		{"https accepted", EndpointPolicy{RequireHTTPS: true, AllowPrivate: true}, "https://pay.internal/charge", ""},
		{"public name", EndpointPolicy{Lookup: resolveTo("93.184.216.34")}, "https://hooks.example.com/a", ""},
		{"name resolving private", EndpointPolicy{Lookup: resolveTo("192.168.1.4")}, "https://hooks.example.com/a", "resolves to blocked"},
		{"unresolvable", EndpointPolicy{Lookup: func(string) ([]string, error) { return nil, errors.New("nxdomain") }}, "https://nope.example/a", "cannot resolve"},
	}
	for _, tt := range tests {
		err := tt.policy.Validate(tt.url)
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("%s: error = %v, want containing %q", tt.name, err, tt.wantErr)
			continue
		}
		if !errors.Is(err, ErrEndpointNotAllowed) {
			t.Errorf("%s: error %v does not wrap ErrEndpointNotAllowed", tt.name, err)
		}
	}
}
