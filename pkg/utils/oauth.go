package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jakechorley/campus-rota/internal/config"
)

// ScopeGmailSend lets the worker send fallback emails and nothing else
const ScopeGmailSend = "https://www.googleapis.com/auth/gmail.send"

const (
	AuthPort     = 3000
	authTimeout  = 5 * time.Minute
	callbackPath = "/oauth/callback"
	tokenDirName = ".campus-rota/tokens"
)

// GetOAuthConfig creates an OAuth2 config for the Gmail send scope, redirecting to the local callback
func GetOAuthConfig(oauthCfg *config.OAuthClientConfig) (*oauth2.Config, error) {
	raw, err := json.Marshal(oauthCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal oauth config: %w", err)
	}

	cfg, err := google.ConfigFromJSON(raw, ScopeGmailSend)
	if err != nil {
		return nil, fmt.Errorf("failed to create google config: %w", err)
	}
	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d%s", AuthPort, callbackPath)

	return cfg, nil
}

// TokenStore keeps one Gmail token per environment on disk, readable by the owner only
type TokenStore struct {
	dir string
}

// NewTokenStore stores tokens under dir
func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{dir: dir}
}

// DefaultTokenStore stores tokens under ~/.campus-rota/tokens
func DefaultTokenStore() (*TokenStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return NewTokenStore(filepath.Join(home, tokenDirName)), nil
}

func (s *TokenStore) path(env string) string {
	return filepath.Join(s.dir, "gmail-token-"+env+".json")
}

// Load returns the saved token for env, or nil when none has been saved
func (s *TokenStore) Load(env string) (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path(env))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &token, nil
}

// Save writes the token for env, replacing any earlier one atomically
func (s *TokenStore) Save(env string, token *oauth2.Token) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	tmp := s.path(env) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path(env)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// Delete removes the token for env. Deleting a missing token is not an error.
func (s *TokenStore) Delete(env string) error {
	if err := os.Remove(s.path(env)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}

// Authorizer obtains the mailbox token for one environment. A saved token is reused while it
// still refreshes; otherwise the user is sent through the browser consent flow.
type Authorizer struct {
	cfg   *oauth2.Config
	store *TokenStore
	env   string
	out   io.Writer

	// waitForCode blocks until the consent redirect delivers the code for state
	waitForCode func(ctx context.Context, state string) (string, error)
}

// NewAuthorizer creates an authorizer that prints instructions to out
func NewAuthorizer(cfg *oauth2.Config, store *TokenStore, env string, out io.Writer) *Authorizer {
	return &Authorizer{
		cfg:         cfg,
		store:       store,
		env:         env,
		out:         out,
		waitForCode: listenForCode,
	}
}

// Token returns a usable token with the send scope and saves it for the worker
func (a *Authorizer) Token(ctx context.Context) (*oauth2.Token, error) {
	saved, err := a.store.Load(a.env)
	if err != nil {
		fmt.Fprintf(a.out, "Ignoring saved token: %v\n", err)
	}

	if saved != nil && saved.RefreshToken != "" {
		token, err := a.cfg.TokenSource(ctx, saved).Token()
		switch {
		case err != nil:
			fmt.Fprintf(a.out, "Saved token could not be refreshed: %v\n", err)
		case len(missingScopes(token)) > 0:
			fmt.Fprintln(a.out, "Saved token no longer grants the send scope")
		default:
			if err := a.store.Save(a.env, token); err != nil {
				return nil, err
			}
			return token, nil
		}
	}

	return a.authorize(ctx)
}

func (a *Authorizer) authorize(ctx context.Context) (*oauth2.Token, error) {
	state := uuid.New().String()
	authURL := a.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Fprintf(a.out, "\nVisit this URL to authorize the mailbox:\n%s\n\n", authURL)

	code, err := a.waitForCode(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	token, err := a.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}
	if _, ok := token.Extra("scope").(string); !ok {
		return nil, errors.New("token response did not list the granted scopes")
	}
	if missing := missingScopes(token); len(missing) > 0 {
		return nil, fmt.Errorf("token is missing required scopes: %v", missing)
	}
	if token.RefreshToken == "" {
		return nil, errors.New("no refresh token was granted; the worker cannot send without one")
	}

	if err := a.store.Save(a.env, token); err != nil {
		return nil, err
	}
	return token, nil
}

// missingScopes compares the scopes granted in the token response with the send scope.
// Tokens served from cache carry no scope list and are trusted, since only checked tokens are saved.
func missingScopes(token *oauth2.Token) []string {
	granted, ok := token.Extra("scope").(string)
	if !ok {
		return nil
	}
	if slices.Contains(strings.Fields(granted), ScopeGmailSend) {
		return nil
	}
	return []string{ScopeGmailSend}
}

// listenForCode serves the redirect URL on localhost until a code with the expected state arrives
func listenForCode(ctx context.Context, state string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	codes := make(chan string, 1)
	errs := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "Unexpected authorization state", http.StatusBadRequest)
			return
		}
		if reason := q.Get("error"); reason != "" {
			http.Error(w, "Authorization denied", http.StatusForbidden)
			select {
			case errs <- fmt.Errorf("authorization denied: %s", reason):
			default:
			}
			return
		}

		fmt.Fprintln(w, "Mailbox authorized. You can close this window.")
		select {
		case codes <- q.Get("code"):
		default:
		}
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("localhost:%d", AuthPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errs <- fmt.Errorf("callback server failed: %w", err):
			default:
			}
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	select {
	case code := <-codes:
		if code == "" {
			return "", errors.New("no authorization code received")
		}
		return code, nil
	case err := <-errs:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("authorization not completed within %v", authTimeout)
	}
}
