//go:build integration

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/attaboy/adaptiveauth/internal/auth"
	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/attaboy/adaptiveauth/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Client describes the request headers a login is made with.
type Client struct {
	UserAgent string
	DeviceID  string
	IP        string
}

// Browser is a familiar client with a stable device.
var Browser = Client{UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0", DeviceID: "device-browser-01", IP: "198.51.100.10"}

// LoginResponse is the body of a 200 or 202 login.
type LoginResponse struct {
	Action    string    `json:"action"`
	Token     string    `json:"token"`
	UserID    uuid.UUID `json:"user_id"`
	AttemptID uuid.UUID `json:"attempt_id"`
	RiskLevel string    `json:"risk_level"`
	RiskScore *float64  `json:"risk_score"`
}

// RegisterUser creates a user through the API and returns its ID.
func (env *TestEnv) RegisterUser(email, password string) uuid.UUID {
	env.t.Helper()
	resp := env.POST("/auth/register", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		env.t.Fatalf("RegisterUser: expected 201, got %d", resp.StatusCode)
	}

	var result struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		env.t.Fatalf("RegisterUser: decode: %v", err)
	}
	return result.UserID
}

// SeedUser inserts a user with the given roles directly.
func (env *TestEnv) SeedUser(email, password string, roles ...string) uuid.UUID {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		env.t.Fatalf("SeedUser: hash: %v", err)
	}
	user := &domain.AuthUser{ID: uuid.New(), Email: email, PasswordHash: string(hash), Roles: roles}
	if err := repository.NewPgAuthUserRepository().Create(ctx, env.Pool, user); err != nil {
		env.t.Fatalf("SeedUser: %v", err)
	}
	return user.ID
}

// RememberDevice marks a device as known for a user.
func (env *TestEnv) RememberDevice(userID uuid.UUID, deviceID string) {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repository.NewPgDeviceRepository().Remember(ctx, env.Pool, userID, deviceID); err != nil {
		env.t.Fatalf("RememberDevice: %v", err)
	}
}

// Login posts credentials from the given client.
func (env *TestEnv) Login(email, password, realm string, c Client) *http.Response {
	env.t.Helper()
	body := map[string]string{"email": email, "password": password}
	if realm != "" {
		body["realm"] = realm
	}
	return env.do(http.MethodPost, "/auth/login", body, "", map[string]string{
		"User-Agent":      c.UserAgent,
		"X-Device-ID":     c.DeviceID,
		"X-Forwarded-For": c.IP,
	})
}

// AdminToken signs an admin-realm token with the given role.
func (env *TestEnv) AdminToken(role string) string {
	env.t.Helper()
	token, err := env.JWTMgr.GenerateToken(auth.RealmAdmin, uuid.New(), "admin@test.com", role, nil)
	if err != nil {
		env.t.Fatalf("AdminToken: %v", err)
	}
	return token
}

// GET performs an unauthenticated GET request.
func (env *TestEnv) GET(path string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodGet, path, nil, "", nil)
}

// POST performs a POST request with optional auth token.
func (env *TestEnv) POST(path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodPost, path, body, token, nil)
}

// AuthGET performs an authenticated GET request.
func (env *TestEnv) AuthGET(path, token string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodGet, path, nil, token, nil)
}

func (env *TestEnv) do(method, path string, body interface{}, token string, headers map[string]string) *http.Response {
	env.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			env.t.Fatalf("%s %s: encode: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, env.Server.URL+path, &buf)
	if err != nil {
		env.t.Fatalf("%s %s: new request: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}
