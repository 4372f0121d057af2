package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(ms *memStore) http.Handler {
	service, _ := newTestService(ms)
	return NewHTTPServer(service, "*").Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	request := httptest.NewRequest(method, path, &buf)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	var decoded map[string]any
	if recorder.Body.Len() > 0 {
		if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
		}
	}
	return recorder, decoded
}

func TestRegisterContract(t *testing.T) {
	handler := newTestServer(newMemStore())

	recorder, body := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email":    "lena@example.com",
		"username": "lena",
		"password": "secret123",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", recorder.Code, recorder.Body.String())
	}
	for _, key := range []string{"token", "refreshToken", "userId"} {
		if value, _ := body[key].(string); value == "" {
			t.Fatalf("response missing %q: %v", key, body)
		}
	}
	if body["username"] != "lena" || body["role"] != "member" {
		t.Fatalf("unexpected identity %v", body)
	}

	recorder, body = doJSON(t, handler, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email":    "lena@example.com",
		"username": "other",
		"password": "secret123",
	})
	if recorder.Code != http.StatusBadRequest || body["code"] != "INVALID_INPUT" || body["error"] != "Email already taken" {
		t.Fatalf("expected email conflict, got %d %v", recorder.Code, body)
	}
}

func TestLoginContract(t *testing.T) {
	ms := newMemStore()
	handler := newTestServer(ms)
	seedUser(t, ms, "lena", "member")

	recorder, body := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]any{
		"identifier": "lena",
		"password":   "wrong",
	})
	if recorder.Code != http.StatusUnauthorized || body["code"] != "UNAUTHORIZED" || body["error"] != "Invalid credentials" {
		t.Fatalf("expected 401 invalid credentials, got %d %v", recorder.Code, body)
	}

	recorder, body = doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]any{
		"identifier": "lena@example.com",
		"password":   "secret123",
	})
	if recorder.Code != http.StatusOK || body["username"] != "lena" {
		t.Fatalf("login failed: %d %v", recorder.Code, body)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	handler := newTestServer(newMemStore())

	_, registered := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email":    "lena@example.com",
		"username": "lena",
		"password": "secret123",
	})
	refreshToken := registered["refreshToken"].(string)

	recorder, body := doJSON(t, handler, http.MethodPost, "/api/auth/refresh", "", map[string]any{
		"refreshToken": refreshToken,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("refresh failed: %d %v", recorder.Code, body)
	}
	if body["token"] == registered["token"] {
		t.Fatal("refresh should mint a new access token")
	}

	recorder, body = doJSON(t, handler, http.MethodPost, "/api/auth/refresh", "", map[string]any{
		"refreshToken": refreshToken,
	})
	if recorder.Code != http.StatusUnauthorized || body["error"] != "Refresh token invalid" {
		t.Fatalf("reused refresh token should fail, got %d %v", recorder.Code, body)
	}
}

func TestProtectedRouteRequiresSession(t *testing.T) {
	handler := newTestServer(newMemStore())

	recorder, body := doJSON(t, handler, http.MethodGet, "/api/users/me", "", nil)
	if recorder.Code != http.StatusUnauthorized || body["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected 401 without bearer, got %d %v", recorder.Code, body)
	}

	recorder, _ = doJSON(t, handler, http.MethodGet, "/api/users/me", "not-a-token", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", recorder.Code)
	}

	_, registered := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email":    "lena@example.com",
		"username": "lena",
		"password": "secret123",
	})
	recorder, body = doJSON(t, handler, http.MethodGet, "/api/users/me", registered["token"].(string), nil)
	if recorder.Code != http.StatusOK || body["username"] != "lena" {
		t.Fatalf("authenticated me failed: %d %v", recorder.Code, body)
	}
}

func TestSessionEndpoint(t *testing.T) {
	handler := newTestServer(newMemStore())

	recorder, body := doJSON(t, handler, http.MethodGet, "/api/session", "", nil)
	if recorder.Code != http.StatusOK || body["authenticated"] != false {
		t.Fatalf("anonymous session check failed: %d %v", recorder.Code, body)
	}

	_, registered := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email":    "lena@example.com",
		"username": "lena",
		"password": "secret123",
	})
	recorder, body = doJSON(t, handler, http.MethodGet, "/api/session", registered["token"].(string), nil)
	if recorder.Code != http.StatusOK || body["authenticated"] != true || body["username"] != "lena" {
		t.Fatalf("authenticated session check failed: %d %v", recorder.Code, body)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	handler := newTestServer(newMemStore())

	_, registered := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email":    "lena@example.com",
		"username": "lena",
		"password": "secret123",
	})
	token := registered["token"].(string)

	recorder, _ := doJSON(t, handler, http.MethodPost, "/api/auth/logout", token, map[string]any{
		"refreshToken": registered["refreshToken"],
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("logout failed: %d", recorder.Code)
	}

	recorder, _ = doJSON(t, handler, http.MethodGet, "/api/users/me", token, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token should be rejected, got %d", recorder.Code)
	}
}

func TestGuestCanDropAndTakeBooks(t *testing.T) {
	ms := newMemStore()
	handler := newTestServer(ms)
	box := seedBox(ms, "Riverside Box")

	recorder, body := doJSON(t, handler, http.MethodPost, "/api/bookboxes/"+box.ID+"/books", "", map[string]any{
		"title":   "Dune",
		"authors": []string{"Frank Herbert"},
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("guest add failed: %d %v", recorder.Code, body)
	}
	bookID := body["id"].(string)

	path := fmt.Sprintf("/api/bookboxes/%s/books/%s", box.ID, bookID)
	recorder, body = doJSON(t, handler, http.MethodDelete, path, "", nil)
	if recorder.Code != http.StatusOK || body["bookboxId"] != "" {
		t.Fatalf("guest take failed: %d %v", recorder.Code, body)
	}

	// A bearer token that is present but invalid is still rejected.
	recorder, _ = doJSON(t, handler, http.MethodPost, "/api/bookboxes/"+box.ID+"/books", "bogus", map[string]any{"title": "Emma"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("invalid token should be rejected, got %d", recorder.Code)
	}
}

func TestCreateThreadRequiresSession(t *testing.T) {
	ms := newMemStore()
	handler := newTestServer(ms)
	book := seedBook(ms, "Dune", "")

	recorder, _ := doJSON(t, handler, http.MethodPost, "/api/threads", "", map[string]any{
		"bookId": book.ID,
		"title":  "Worth reading?",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous thread creation should fail, got %d", recorder.Code)
	}

	_, registered := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email":    "lena@example.com",
		"username": "lena",
		"password": "secret123",
	})
	recorder, body := doJSON(t, handler, http.MethodPost, "/api/threads", registered["token"].(string), map[string]any{
		"bookId": book.ID,
		"title":  "Worth reading?",
	})
	if recorder.Code != http.StatusCreated || body["bookTitle"] != "Dune" {
		t.Fatalf("thread creation failed: %d %v", recorder.Code, body)
	}
}

func TestReactionToggleOverHTTP(t *testing.T) {
	ms := newMemStore()
	handler := newTestServer(ms)
	book := seedBook(ms, "Dune", "")

	_, registered := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email":    "lena@example.com",
		"username": "lena",
		"password": "secret123",
	})
	token := registered["token"].(string)

	_, thread := doJSON(t, handler, http.MethodPost, "/api/threads", token, map[string]any{
		"bookId": book.ID,
		"title":  "Worth reading?",
	})
	threadID := thread["id"].(string)

	_, message := doJSON(t, handler, http.MethodPost, "/api/threads/"+threadID+"/messages", token, map[string]any{
		"content": "hello",
	})
	messageID := message["messageId"].(string)

	path := fmt.Sprintf("/api/threads/%s/messages/%s/reactions", threadID, messageID)
	recorder, body := doJSON(t, handler, http.MethodPost, path, token, map[string]any{"reactIcon": "👍"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("toggle add failed: %d %v", recorder.Code, body)
	}
	reaction, ok := body["reaction"].(map[string]any)
	if !ok || reaction["username"] != "lena" || reaction["reactIcon"] != "👍" {
		t.Fatalf("unexpected reaction payload %v", body)
	}

	recorder, body = doJSON(t, handler, http.MethodPost, path, token, map[string]any{"reactIcon": "👍"})
	if recorder.Code != http.StatusOK || body["reaction"] != nil {
		t.Fatalf("toggle remove should return null reaction, got %d %v", recorder.Code, body)
	}
}

func TestCORSAndRequestID(t *testing.T) {
	handler := newTestServer(newMemStore())

	request := httptest.NewRequest(http.MethodOptions, "/api/threads", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS origin header")
	}

	request = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	request.Header.Set("X-Request-ID", "req-123")
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Header().Get("X-Request-ID") != "req-123" {
		t.Fatal("request id should be echoed")
	}
}
