// Package middleware contains HTTP middleware for the indexing API.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"fhirindex/internal/auth"
	"fhirindex/pkg/api"
)

// APIKeyHeader carries the caller's API key when no bearer token is sent.
const APIKeyHeader = "X-API-Key"

// APIKey rejects requests whose key does not hash to keyHash. The key is read
// from "Authorization: Bearer <key>" or the X-API-Key header. An empty keyHash
// disables the check.
func APIKey(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if keyHash == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := keyFromRequest(r)
			if !ok || !auth.MatchKey(key, keyHash) {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func keyFromRequest(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", false
		}
		return strings.TrimSpace(token), true
	}
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key, true
	}
	return "", false
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: "Unauthorized",
		Code:  "401",
	})
}
