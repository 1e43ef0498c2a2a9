// Package auth authenticates the browser user. The user identity it yields
// is what advisor payloads carry in their user field. Development runs a
// mock provider; production runs an OAuth2 code flow against the configured
// identity server.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/Billy-Davies-2/draft-copilot/internal/config"
)

// User represents an authenticated user.
type User struct {
	ID       string
	Email    string
	Name     string
	Username string
}

// Provider is the authentication surface the HTTP layer mounts.
type Provider interface {
	LoginHandler(w http.ResponseWriter, r *http.Request)
	CallbackHandler(w http.ResponseWriter, r *http.Request)
	LogoutHandler(w http.ResponseWriter, r *http.Request)
	Middleware(next http.HandlerFunc) http.HandlerFunc
}

type contextKey string

const userContextKey contextKey = "user"

// GetUser returns the authenticated user from the request context, nil when
// unauthenticated.
func GetUser(r *http.Request) *User {
	user, _ := r.Context().Value(userContextKey).(*User)
	return user
}

// Username returns a stable identity string for advisor payloads.
func Username(r *http.Request) string {
	if u := GetUser(r); u != nil {
		if u.Username != "" {
			return u.Username
		}
		return u.Email
	}
	return "anonymous"
}

type session struct {
	user      *User
	token     *oauth2.Token
	expiresAt time.Time
}

// OAuth2Auth implements Provider with an OAuth2/OIDC code flow.
type OAuth2Auth struct {
	baseURL      string
	oauth2Config *oauth2.Config
	sessions     map[string]*session
	mu           sync.RWMutex
}

// NewOAuth2Auth creates an OAuth2 provider from configuration.
func NewOAuth2Auth(cfg config.Auth) *OAuth2Auth {
	return &OAuth2Auth{
		baseURL: cfg.BaseURL,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  fmt.Sprintf("%s/application/o/authorize/", cfg.BaseURL),
				TokenURL: fmt.Sprintf("%s/application/o/token/", cfg.BaseURL),
			},
		},
		sessions: make(map[string]*session),
	}
}

// LoginHandler starts the OAuth2 code flow.
func (a *OAuth2Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	state := randomToken()

	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})

	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler completes the code flow and establishes a session.
func (a *OAuth2Auth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || r.URL.Query().Get("state") != stateCookie.Value {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	token, err := a.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		http.Error(w, "Failed to exchange token: "+err.Error(), http.StatusInternalServerError)
		return
	}

	user, err := a.fetchUserInfo(r.Context(), token)
	if err != nil {
		http.Error(w, "Failed to get user info: "+err.Error(), http.StatusInternalServerError)
		return
	}

	sessionID := randomToken()
	a.mu.Lock()
	a.sessions[sessionID] = &session{user: user, token: token, expiresAt: token.Expiry}
	a.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     "session_id",
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Expires:  token.Expiry,
	})

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// LogoutHandler drops the session.
func (a *OAuth2Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("session_id"); err == nil {
		a.mu.Lock()
		delete(a.sessions, cookie.Value)
		a.mu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Middleware requires a valid session and injects the user into the request
// context.
func (a *OAuth2Auth) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("session_id")
		if err != nil {
			http.Redirect(w, r, "/auth/login", http.StatusTemporaryRedirect)
			return
		}

		a.mu.RLock()
		sess, ok := a.sessions[cookie.Value]
		a.mu.RUnlock()

		if !ok || time.Now().After(sess.expiresAt) {
			http.Redirect(w, r, "/auth/login", http.StatusTemporaryRedirect)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, sess.user)
		next(w, r.WithContext(ctx))
	}
}

func (a *OAuth2Auth) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*User, error) {
	client := a.oauth2Config.Client(ctx, token)
	resp, err := client.Get(fmt.Sprintf("%s/application/o/userinfo/", a.baseURL))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	var info struct {
		Sub               string `json:"sub"`
		Email             string `json:"email"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}

	return &User{
		ID:       info.Sub,
		Email:    info.Email,
		Name:     info.Name,
		Username: info.PreferredUsername,
	}, nil
}

func randomToken() string {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}

// MockAuth implements Provider for local development: everyone is the same
// developer user, no identity server needed.
type MockAuth struct{}

// NewMockAuth creates the development auth provider.
func NewMockAuth() *MockAuth {
	return &MockAuth{}
}

func (m *MockAuth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (m *MockAuth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (m *MockAuth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (m *MockAuth) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), userContextKey, &User{
			ID:       "dev",
			Email:    "dev@localhost",
			Name:     "Dev User",
			Username: "dev",
		})
		next(w, r.WithContext(ctx))
	}
}
