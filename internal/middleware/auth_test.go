package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTokenAuth_Bearer(t *testing.T) {
	called := false
	handler := TokenAuth("secret123", func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/assistant/chat", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusOK)
	}
}

func TestTokenAuth_RawHeader(t *testing.T) {
	called := false
	handler := TokenAuth("secret123", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodPost, "/api/assistant/chat", nil)
	req.Header.Set("Authorization", "secret123")
	handler(httptest.NewRecorder(), req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
}

func TestTokenAuth_QueryParamForWebsocket(t *testing.T) {
	called := false
	handler := TokenAuth("secret123", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/assistant/ws?api_token=secret123", nil)
	handler(httptest.NewRecorder(), req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
}

func TestTokenAuth_Unauthorized(t *testing.T) {
	handler := TokenAuth("secret123", func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/assistant/chat", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusUnauthorized)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Fatalf("WWW-Authenticate=%q want=Bearer", got)
	}
	if !strings.Contains(rec.Body.String(), "Invalid authentication token") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestTokenAuth_EmptyTokenDisablesAuth(t *testing.T) {
	called := false
	handler := TokenAuth("", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodPost, "/api/assistant/chat", nil)
	handler(httptest.NewRecorder(), req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
}
