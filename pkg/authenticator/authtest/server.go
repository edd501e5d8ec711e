// Package authtest provides a fake Keycloak realm for tests.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	Realm = "Broker"
	KeyID = "authtest"
)

// TokenHandler answers a token request. n counts token requests, starting
// at 1.
type TokenHandler func(n int, form url.Values) (int, map[string]any)

// Server is an httptest server answering the realm's token, userinfo,
// logout, certs and discovery endpoints.
type Server struct {
	*httptest.Server
	Key *rsa.PrivateKey

	mu             sync.Mutex
	tokenHandler   TokenHandler
	userinfo       map[string]any
	userinfoStatus int
	tokenRequests  []url.Values
	logoutRequests []url.Values
	userinfoCalls  int
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	s := &Server{
		Key:            key,
		userinfoStatus: http.StatusOK,
		userinfo:       map[string]any{"sub": "user-guid", "email": "svc@example.com", "given_name": "Service", "family_name": "Account"},
	}
	s.tokenHandler = s.DefaultTokens

	mux := http.NewServeMux()
	oidcPath := "/auth/realms/" + Realm + "/protocol/openid-connect"
	mux.HandleFunc(oidcPath+"/token", s.handleToken)
	mux.HandleFunc(oidcPath+"/userinfo", s.handleUserinfo)
	mux.HandleFunc(oidcPath+"/logout", s.handleLogout)
	mux.HandleFunc(oidcPath+"/certs", s.handleCerts)
	mux.HandleFunc("/auth/realms/"+Realm+"/.well-known/openid-configuration", s.handleDiscovery)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// TokenURL is the realm's token endpoint.
func (s *Server) TokenURL() string {
	return s.URL + "/auth/realms/" + Realm + "/protocol/openid-connect/token"
}

// SetTokenHandler replaces the token endpoint behavior.
func (s *Server) SetTokenHandler(h TokenHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenHandler = h
}

// SetUserinfo sets the userinfo response. A status >= 400 makes the
// endpoint fail.
func (s *Server) SetUserinfo(status int, info map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userinfoStatus = status
	s.userinfo = info
}

func (s *Server) TokenRequests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.tokenRequests...)
}

func (s *Server) LogoutRequests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.logoutRequests...)
}

func (s *Server) UserinfoCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userinfoCalls
}

// IDToken signs claims with the server key.
func (s *Server) IDToken(claims jwt.MapClaims) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = KeyID
	signed, err := tok.SignedString(s.Key)
	if err != nil {
		panic(err)
	}
	return signed
}

// DefaultTokens issues numbered tokens valid for five minutes with a thirty
// minute refresh window.
func (s *Server) DefaultTokens(n int, _ url.Values) (int, map[string]any) {
	return http.StatusOK, s.Tokens("access-"+strconv.Itoa(n), "refresh-"+strconv.Itoa(n), 300, 1800)
}

// Tokens builds a token response with an ID token for user-guid.
func (s *Server) Tokens(access, refresh string, expiresIn, refreshExpiresIn int) map[string]any {
	body := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
		"id_token": s.IDToken(jwt.MapClaims{
			"sub":               "user-guid",
			"identity_provider": "azure",
			"org_guid":          "org-1",
			"exp":               time.Now().Add(time.Hour).Unix(),
		}),
	}
	if refresh != "" {
		body["refresh_token"] = refresh
		if refreshExpiresIn > 0 {
			body["refresh_expires_in"] = refreshExpiresIn
		}
	}
	return body
}

// OAuthError builds an error response body.
func OAuthError(code, description string) map[string]any {
	return map[string]any{"error": code, "error_description": description}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.tokenRequests = append(s.tokenRequests, r.PostForm)
	n := len(s.tokenRequests)
	handler := s.tokenHandler
	s.mu.Unlock()

	status, body := handler(n, r.PostForm)
	writeJSON(w, status, body)
}

func (s *Server) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.userinfoCalls++
	status, info := s.userinfoStatus, s.userinfo
	s.mu.Unlock()
	if r.Header.Get("Authorization") == "" {
		writeJSON(w, http.StatusUnauthorized, OAuthError("invalid_token", "missing bearer token"))
		return
	}
	writeJSON(w, status, info)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.logoutRequests = append(s.logoutRequests, r.PostForm)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCerts(w http.ResponseWriter, _ *http.Request) {
	pub := s.Key.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": KeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	issuer := s.URL + "/auth/realms/" + Realm
	oidcURL := issuer + "/protocol/openid-connect"
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                 issuer,
		"authorization_endpoint": oidcURL + "/auth",
		"token_endpoint":         oidcURL + "/token",
		"userinfo_endpoint":      oidcURL + "/userinfo",
		"end_session_endpoint":   oidcURL + "/logout",
		"jwks_uri":               oidcURL + "/certs",
		"grant_types_supported":  []string{"authorization_code", "client_credentials", "refresh_token"},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// PrivateKeyPEM generates an RSA key and returns it PEM encoded.
func PrivateKeyPEM(t testing.TB) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return key, string(pem.EncodeToMemory(block))
}
