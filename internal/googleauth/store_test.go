package googleauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func writeCredentials(t *testing.T, dir, tokenURL string) string {
	t.Helper()
	path := filepath.Join(dir, "credentials.json")
	blob := fmt.Sprintf(`{
		"installed": {
			"client_id": "client-id",
			"client_secret": "client-secret",
			"auth_uri": "https://accounts.google.com/o/oauth2/auth",
			"token_uri": %q,
			"redirect_uris": ["http://localhost"]
		}
	}`, tokenURL)
	require.NoError(t, os.WriteFile(path, []byte(blob), 0600))
	return path
}

func writeToken(t *testing.T, dir string, token *oauth2.Token) string {
	t.Helper()
	path := filepath.Join(dir, "token.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, json.NewEncoder(f).Encode(token))
	return path
}

func TestNewStoreMissingCredentialsFile(t *testing.T) {
	_, err := NewStore(nil, filepath.Join(t.TempDir(), "nope.json"), "token.json", 8080)
	require.Error(t, err)
}

func TestTokenReturnsValidPersistedToken(t *testing.T) {
	dir := t.TempDir()
	credPath := writeCredentials(t, dir, "https://oauth2.example.invalid/token")
	tokenPath := writeToken(t, dir, &oauth2.Token{
		AccessToken:  "live-token",
		TokenType:    "Bearer",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	})

	store, err := NewStore(nil, credPath, tokenPath, 8080)
	require.NoError(t, err)

	token, err := store.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live-token", token.AccessToken)
}

func TestTokenRefreshesExpiredTokenAndPersists(t *testing.T) {
	var refreshCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "old-refresh", r.FormValue("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"renewed","token_type":"Bearer","expires_in":3600,"refresh_token":"new-refresh"}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	credPath := writeCredentials(t, dir, srv.URL)
	tokenPath := writeToken(t, dir, &oauth2.Token{
		AccessToken:  "stale",
		TokenType:    "Bearer",
		RefreshToken: "old-refresh",
		Expiry:       time.Now().Add(-time.Hour),
	})

	store, err := NewStore(nil, credPath, tokenPath, 8080)
	require.NoError(t, err)

	token, err := store.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "renewed", token.AccessToken)
	assert.Equal(t, 1, refreshCalls)

	// The refreshed token must be persisted, overwriting the stale one.
	persisted, err := loadToken(tokenPath)
	require.NoError(t, err)
	assert.Equal(t, "renewed", persisted.AccessToken)

	// A second acquisition uses the in-memory token without another refresh.
	_, err = store.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, refreshCalls)
}

func TestTokenRefreshFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	dir := t.TempDir()
	credPath := writeCredentials(t, dir, srv.URL)
	tokenPath := writeToken(t, dir, &oauth2.Token{
		AccessToken:  "stale",
		TokenType:    "Bearer",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Hour),
	})

	store, err := NewStore(nil, credPath, tokenPath, 8080)
	require.NoError(t, err)

	_, err = store.Token(context.Background())
	require.Error(t, err)
}

func TestCallbackHandlerRejectsStateMismatch(t *testing.T) {
	codeCh := make(chan string, 1)
	handler := callbackHandler("expected-state", codeCh)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?state=forged&code=stolen-code", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, codeCh, "a mismatched state must never deliver a code")
}

func TestCallbackHandlerAcceptsMatchingState(t *testing.T) {
	codeCh := make(chan string, 1)
	handler := callbackHandler("expected-state", codeCh)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?state=expected-state&code=auth-code", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	select {
	case code := <-codeCh:
		assert.Equal(t, "auth-code", code)
	default:
		t.Fatal("expected the code to be delivered")
	}
}

func TestCallbackHandlerRejectsMissingCode(t *testing.T) {
	codeCh := make(chan string, 1)
	handler := callbackHandler("expected-state", codeCh)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?state=expected-state", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, codeCh)
}

func TestTokenSourceServesStoreTokens(t *testing.T) {
	dir := t.TempDir()
	credPath := writeCredentials(t, dir, "https://oauth2.example.invalid/token")
	tokenPath := writeToken(t, dir, &oauth2.Token{
		AccessToken: "live-token",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	})

	store, err := NewStore(nil, credPath, tokenPath, 8080)
	require.NoError(t, err)

	ts := store.TokenSource(context.Background())
	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "live-token", token.AccessToken)
}
