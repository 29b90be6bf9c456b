package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/libdx/flask-microservices/internal/auth"
	"github.com/libdx/flask-microservices/internal/domain"
	"github.com/libdx/flask-microservices/internal/event"
	"github.com/libdx/flask-microservices/internal/service"
	apperrors "github.com/libdx/flask-microservices/pkg/errors"
	"github.com/libdx/flask-microservices/pkg/health"
	"github.com/libdx/flask-microservices/pkg/middleware"
)

// ============================================================================
// In-memory user repository
// ============================================================================

type memoryUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]domain.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{nextID: 1, users: make(map[int64]domain.User)}
}

func (m *memoryUserRepo) emailOwner(email string) (int64, bool) {
	for id, u := range m.users {
		if u.Email == email {
			return id, true
		}
	}
	return 0, false
}

func (m *memoryUserRepo) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.emailOwner(user.Email); taken {
		return apperrors.AlreadyExists("User", "email", user.Email)
	}
	user.ID = m.nextID
	user.Active = true
	user.CreatedDate = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.nextID++
	m.users[user.ID] = *user
	return nil
}

func (m *memoryUserRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &u, nil
}

func (m *memoryUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.emailOwner(email)
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	u := m.users[id]
	return &u, nil
}

func (m *memoryUserRepo) Update(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return apperrors.NotFound("User", strconv.FormatInt(user.ID, 10))
	}
	if owner, taken := m.emailOwner(user.Email); taken && owner != user.ID {
		return apperrors.AlreadyExists("User", "email", user.Email)
	}
	m.users[user.ID] = *user
	return nil
}

func (m *memoryUserRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return apperrors.NotFound("User", strconv.FormatInt(id, 10))
	}
	delete(m.users, id)
	return nil
}

func (m *memoryUserRepo) List(_ context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// ============================================================================
// Test server
// ============================================================================

type testServer struct {
	handler http.Handler
	repo    *memoryUserRepo
	codec   *auth.TokenCodec
	hasher  *auth.PasswordHasher
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...func(*RouterConfig)) *testServer {
	t.Helper()

	logger := testLogger()
	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	codec := auth.NewTokenCodec(auth.TokenConfig{
		Secret:     "handler-test-secret-with-enough-bytes",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
		Issuer:     "users",
	})

	repo := newMemoryUserRepo()
	reg := prometheus.NewRegistry()
	events := event.NoopPublisher{}

	deps := Dependencies{
		Auth: service.NewAuthService(repo, hasher, codec, events, service.NewAuthMetrics(reg),
			service.AuthConfig{EnforceTokenKind: true}, logger),
		Users:    service.NewUserService(repo, hasher, events, logger),
		Health:   health.NewHandler(),
		Metrics:  middleware.NewHTTPMetrics(reg),
		Gatherer: reg,
	}
	cfg := RouterConfig{
		ServiceName: "users",
		Environment: "testing",
		CORS:        middleware.DefaultCORSConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &testServer{
		handler: NewRouter(deps, cfg, logger),
		repo:    repo,
		codec:   codec,
		hasher:  hasher,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	req.RemoteAddr = "192.0.2.10:40000"

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func payload(kv ...string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}
