package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"keypool/internal/config"
	"keypool/internal/models"
	"keypool/internal/storage"
	"keypool/internal/utils"
)

const testPassword = "correct horse battery staple"

// stubProber accepts keys whose secret starts with sk-good
type stubProber struct{}

func (stubProber) Probe(ctx context.Context, key *models.APIKey) error {
	if strings.HasPrefix(key.Secret, "sk-good") {
		return nil
	}
	return errors.New("401 unauthorized: invalid api key")
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Success bool   `json:"success"`
	Data    T      `json:"data"`
}

type testServer struct {
	deps    *Dependencies
	handler http.Handler
	admin   string
	viewer  string
}

func testConfig() *config.Config {
	return &config.Config{
		HTTPPort:       "8080",
		JWTSecret:      []byte("test-secret"),
		JWTTTL:         time.Hour,
		LoginRateLimit: 2,
		Timezone:       time.UTC,
		Database:       config.DatabaseConfig{Driver: storage.DriverSQLite, URL: ":memory:"},
		Queue: config.QueueConfig{
			BatchSize:    10,
			BatchTimeout: 20 * time.Millisecond,
			MaxRetries:   1,
			RetryBackoff: time.Millisecond,
		},
		Health: config.HealthConfig{
			Workers:      4,
			KeyTimeout:   time.Second,
			BatchTimeout: 10 * time.Second,
		},
		Stats: config.StatsConfig{Interval: time.Hour, CacheTTL: time.Minute, LockTTL: time.Minute},
	}
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithRedis(t, nil)
}

func newTestServerWithRedis(t *testing.T, client *redis.Client) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := storage.NewMemoryDB(ctx)
	require.NoError(t, err)

	deps, err := NewDependencies(ctx, testConfig(), db, client, stubProber{})
	require.NoError(t, err)
	t.Cleanup(func() { deps.Close() })

	srv := &testServer{deps: deps, handler: NewRouter(deps)}
	srv.createAdmin(t, "admin@example.com", "admin")
	srv.createAdmin(t, "viewer@example.com", "viewer")
	srv.admin = srv.login(t, "admin@example.com")
	srv.viewer = srv.login(t, "viewer@example.com")
	return srv
}

func (s *testServer) createAdmin(t *testing.T, email string, roles ...string) {
	t.Helper()
	hash, err := utils.HashPasswordArgon2(testPassword)
	require.NoError(t, err)
	require.NoError(t, s.deps.AdminUsers.Create(context.Background(), &models.AdminUser{
		Email:        email,
		PasswordHash: hash,
		Roles:        roles,
		Enabled:      true,
	}))
}

func (s *testServer) login(t *testing.T, email string) string {
	t.Helper()
	rec := s.do(t, "/api/auth/login", "", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[loginResponse](t, rec)
	require.True(t, resp.Success, resp.Msg)
	return resp.Data.Token
}

// do POSTs body as JSON with token as bearer credential
func (s *testServer) do(t *testing.T, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

// call POSTs as admin and decodes the envelope
func call[T any](t *testing.T, s *testServer, path string, body interface{}) envelope[T] {
	t.Helper()
	return decode[T](t, s.do(t, path, s.admin, body))
}

func (s *testServer) createKey(t *testing.T, name, secret string) *models.APIKey {
	t.Helper()
	resp := call[*models.APIKey](t, s, "/api/keys/create", map[string]interface{}{
		"name":    name,
		"api_key": secret,
		"ua":      "ua-1",
	})
	require.True(t, resp.Success, resp.Msg)
	return resp.Data
}
