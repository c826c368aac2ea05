package core

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		config         *CORSConfig
		requestOrigin  string
		requestMethod  string
		expectedStatus int
		checkHeaders   func(*testing.T, http.Header)
	}{
		{
			name:           "disabled",
			config:         &CORSConfig{Enabled: false},
			requestOrigin:  "https://example.com",
			requestMethod:  http.MethodGet,
			expectedStatus: http.StatusOK,
			checkHeaders: func(t *testing.T, h http.Header) {
				assert.Empty(t, h.Get("Access-Control-Allow-Origin"))
			},
		},
		{
			name: "exact origin match",
			config: &CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"https://example.com"},
				AllowedMethods: []string{"GET", "POST"},
			},
			requestOrigin:  "https://example.com",
			requestMethod:  http.MethodGet,
			expectedStatus: http.StatusOK,
			checkHeaders: func(t *testing.T, h http.Header) {
				assert.Equal(t, "https://example.com", h.Get("Access-Control-Allow-Origin"))
				assert.Equal(t, "GET, POST", h.Get("Access-Control-Allow-Methods"))
			},
		},
		{
			name:           "wildcard all origins",
			config:         &CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}},
			requestOrigin:  "https://any-site.com",
			requestMethod:  http.MethodGet,
			expectedStatus: http.StatusOK,
			checkHeaders: func(t *testing.T, h http.Header) {
				assert.Equal(t, "https://any-site.com", h.Get("Access-Control-Allow-Origin"))
			},
		},
		{
			name:           "wildcard subdomain match",
			config:         &CORSConfig{Enabled: true, AllowedOrigins: []string{"https://*.example.com"}},
			requestOrigin:  "https://api.example.com",
			requestMethod:  http.MethodGet,
			expectedStatus: http.StatusOK,
			checkHeaders: func(t *testing.T, h http.Header) {
				assert.Equal(t, "https://api.example.com", h.Get("Access-Control-Allow-Origin"))
			},
		},
		{
			name:           "origin rejected",
			config:         &CORSConfig{Enabled: true, AllowedOrigins: []string{"https://allowed.com"}},
			requestOrigin:  "https://attacker.com",
			requestMethod:  http.MethodGet,
			expectedStatus: http.StatusOK,
			checkHeaders: func(t *testing.T, h http.Header) {
				assert.Empty(t, h.Get("Access-Control-Allow-Origin"))
			},
		},
		{
			name:           "preflight returns no content",
			config:         &CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}},
			requestOrigin:  "https://example.com",
			requestMethod:  http.MethodOptions,
			expectedStatus: http.StatusNoContent,
			checkHeaders:   func(t *testing.T, h http.Header) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORSMiddleware(tt.config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.requestMethod, "/", nil)
			req.Header.Set("Origin", tt.requestOrigin)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			tt.checkHeaders(t, rec.Header())
		})
	}
}
