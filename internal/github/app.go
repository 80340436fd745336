package github

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/toolhub/ghmcp/internal/core"
)

// AppTokenSource mints installation access tokens for a GitHub App.
type AppTokenSource struct {
	appID          int64
	installationID int64
	privateKey     *rsa.PrivateKey
	baseURL        string
	userAgent      string
	httpClient     *http.Client
	now            func() time.Time

	mu    sync.Mutex
	token string
	expAt time.Time
}

type AppConfig struct {
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	BaseURL        string
	UserAgent      string
	HTTPClient     *http.Client
}

func NewAppTokenSource(cfg AppConfig) (*AppTokenSource, error) {
	raw, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, core.Configuration("read private key: %v", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, core.Configuration("no PEM block found in %s", cfg.PrivateKeyPath)
	}

	key, err := parseRSAPrivateKey(block.Bytes)
	if err != nil {
		return nil, core.Configuration("parse private key: %v", err)
	}

	return newAppTokenSource(cfg, key), nil
}

func newAppTokenSource(cfg AppConfig, key *rsa.PrivateKey) *AppTokenSource {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &AppTokenSource{
		appID:          cfg.AppID,
		installationID: cfg.InstallationID,
		privateKey:     key,
		baseURL:        baseURL,
		userAgent:      cfg.UserAgent,
		httpClient:     client,
		now:            time.Now,
	}
}

func parseRSAPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}

	pkcs8Key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := pkcs8Key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}

// makeJWT signs the RS256 app assertion: 10 min expiry, backdated 60s for clock drift.
func (s *AppTokenSource) makeJWT() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(s.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(s.privateKey)
}

type installationTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Token returns a cached installation token, or mints a new one when the
// cached token is within a minute of expiry.
func (s *AppTokenSource) Token(ctx context.Context) (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.installationID == 0 {
		return "", time.Time{}, core.Configuration("GitHub App installation id is required")
	}

	if s.token != "" && s.now().Before(s.expAt.Add(-time.Minute)) {
		return s.token, s.expAt, nil
	}

	jwtStr, err := s.makeJWT()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign JWT: %w", err)
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", s.baseURL, s.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+jwtStr)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("X-GitHub-Api-Version", apiVersionHeader)
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, core.Transport(fmt.Errorf("request installation token: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized {
			return "", time.Time{}, core.Authentication("GitHub App credentials rejected: " + string(body))
		}
		return "", time.Time{}, core.UpstreamServer(resp.StatusCode, string(body))
	}

	var tok installationTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", time.Time{}, core.Decode(fmt.Errorf("decode token response: %w", err))
	}

	s.token = tok.Token
	s.expAt = tok.ExpiresAt
	return s.token, s.expAt, nil
}
