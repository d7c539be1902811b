package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const genericLoginFailure = "로그인에 실패했습니다"

// AuthError is a login rejected by the backend or a login that could not
// reach it. Reason is safe to show to the user.
type AuthError struct {
	Reason string
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("login failed: %s: %v", e.Reason, e.Err)
	}
	return "login failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// Credentials is the login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the backend's successful login body. CompanyID is not
// sent by every backend version; the token's company_id claim is used then.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Role        string `json:"role"`
	Redirect    string `json:"redirect"`
	CompanyID   FlexID `json:"company_id,omitempty"`
}

// Exchanger performs the login exchange against the backend.
type Exchanger interface {
	Exchange(ctx context.Context, creds Credentials) (*LoginResponse, error)
}

// HTTPExchanger posts credentials to /api/auth/login. Its client must not go
// through the gateway: a 401 here means bad credentials, not an expired
// session.
type HTTPExchanger struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPExchanger(baseURL string) *HTTPExchanger {
	return &HTTPExchanger{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (x *HTTPExchanger) Exchange(ctx context.Context, creds Credentials) (*LoginResponse, error) {
	body, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.BaseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, &AuthError{Reason: genericLoginFailure, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	client := x.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &AuthError{Reason: genericLoginFailure, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &AuthError{Reason: genericLoginFailure, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return nil, &AuthError{Reason: detailOf(raw), Status: resp.StatusCode}
	}

	var out LoginResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &AuthError{Reason: genericLoginFailure, Status: resp.StatusCode, Err: fmt.Errorf("decode login response: %w", err)}
	}
	return &out, nil
}

// detailOf extracts the server's human-readable reason from an error body.
// FastAPI style validation errors carry a list; those fall back to the
// generic reason.
func detailOf(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && len(body.Detail) > 0 {
		var s string
		if json.Unmarshal(body.Detail, &s) == nil && s != "" {
			return s
		}
	}
	return genericLoginFailure
}

type tokenClaims struct {
	Role      string `json:"role"`
	CompanyID FlexID `json:"company_id"`
	jwt.RegisteredClaims
}

// ScopeFromToken reads the company_id claim of an access token without
// verifying its signature. The client holds no key; the backend verifies the
// token on every request.
func ScopeFromToken(token string) (string, error) {
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("parse access token: %w", err)
	}
	return claims.CompanyID.String(), nil
}

var errNoResponse = errors.New("exchanger returned no response")
