package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
)

func bearerToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
}

func writeBearerUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"detail": message,
	})
}

// TokenAuth guards the assistant API with a single shared token. An empty
// token disables auth, which is the expected setup for a localhost-only
// desktop install. The token is accepted as a Bearer header, a raw
// Authorization value, an X-Api-Token header, or an api_token query
// parameter (the last one exists for the websocket client, which cannot
// set headers from a browser).
func TokenAuth(apiToken string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(apiToken)
		if token == "" {
			next(w, r)
			return
		}

		if bearerToken(r) == token {
			next(w, r)
			return
		}
		if strings.TrimSpace(r.Header.Get("Authorization")) == token {
			next(w, r)
			return
		}
		if r.Header.Get("X-Api-Token") == token {
			next(w, r)
			return
		}
		if strings.TrimSpace(r.URL.Query().Get("api_token")) == token {
			next(w, r)
			return
		}

		writeBearerUnauthorized(w, "Invalid authentication token")
	}
}
