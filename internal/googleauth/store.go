// Package googleauth owns the OAuth2 credential used for Drive and Sheets.
//
// Tokens round-trip through a JSON file next to the process so a restart
// does not force re-authorization. Refresh and the interactive
// authorization-code flow are serialized behind a single mutex; concurrent
// pipeline handlers share one Store instance.
package googleauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	sheets "google.golang.org/api/sheets/v4"
)

// Scopes requested for the credential: file-scoped Drive access plus full
// spreadsheet read/write. Changing these invalidates cached tokens.
var Scopes = []string{drive.DriveFileScope, sheets.SpreadsheetsScope}

// Store acquires, refreshes, and persists the Google OAuth2 token.
type Store struct {
	logger       *slog.Logger
	oauthConfig  *oauth2.Config
	tokenPath    string
	callbackPort int

	mu     sync.Mutex
	cached *oauth2.Token
}

// NewStore reads the client-secrets file and prepares a store that caches
// tokens at tokenPath. The interactive flow, when needed, listens on
// callbackPort.
func NewStore(log *slog.Logger, credentialsPath, tokenPath string, callbackPort int) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read client secret file: %w", err)
	}
	oauthConfig, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secret file: %w", err)
	}

	return &Store{
		logger:       log.With(slog.String("component", "googleauth")),
		oauthConfig:  oauthConfig,
		tokenPath:    tokenPath,
		callbackPort: callbackPort,
	}, nil
}

// Token returns a valid token: the in-memory one when still valid, else the
// persisted one, else a refreshed one, else the result of the interactive
// flow. Whatever succeeds is persisted before being returned.
func (s *Store) Token(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached.Valid() {
		return s.cached, nil
	}

	token, err := loadToken(s.tokenPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load cached token: %w", err)
	}

	switch {
	case token.Valid():
		// Fresh enough as persisted.
	case token != nil && token.RefreshToken != "":
		token, err = s.refresh(ctx, token)
		if err != nil {
			return nil, err
		}
	default:
		token, err = s.authorize(ctx)
		if err != nil {
			return nil, err
		}
	}

	if err := saveToken(s.tokenPath, token); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}
	s.cached = token
	return token, nil
}

func (s *Store) refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	fresh, err := s.oauthConfig.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	s.logger.Info("token refreshed")
	return fresh, nil
}

// authorize runs the interactive authorization-code flow: print the consent
// URL, wait for the provider to redirect to the local callback listener, and
// exchange the code.
func (s *Store) authorize(ctx context.Context) (*oauth2.Token, error) {
	cfg := *s.oauthConfig
	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d/", s.callbackPort)

	state := uuid.NewString()
	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser to authorize access:\n%v\n", authURL)

	codeCh := make(chan string, 1)
	mux := http.NewServeMux()
	mux.Handle("/", callbackHandler(state, codeCh))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.callbackPort),
		Handler: mux,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	defer server.Close()

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, fmt.Errorf("auth callback listener: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	s.logger.Info("authorization flow completed")
	return token, nil
}

// callbackHandler accepts the provider redirect. A redirect whose state does
// not match the one issued with the consent URL is rejected without reading
// its code.
func callbackHandler(state string, codeCh chan<- string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authorization received. You can close this window.")
		select {
		case codeCh <- code:
		default:
		}
	})
}

// TokenSource adapts the store to oauth2.TokenSource for the Google API
// clients. Each Token call goes through the store so refreshes are
// serialized and persisted.
func (s *Store) TokenSource(ctx context.Context) oauth2.TokenSource {
	return storeTokenSource{ctx: ctx, store: s}
}

// Client returns an HTTP client authenticated by the store.
func (s *Store) Client(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, s.TokenSource(ctx))
}

type storeTokenSource struct {
	ctx   context.Context
	store *Store
}

func (ts storeTokenSource) Token() (*oauth2.Token, error) {
	return ts.store.Token(ts.ctx)
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, err
	}
	return token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
