package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rongwang/sts-clearance/internal/api"
	"github.com/rongwang/sts-clearance/internal/cache"
	"github.com/rongwang/sts-clearance/internal/config"
	"github.com/rongwang/sts-clearance/internal/dashboard"
	"github.com/rongwang/sts-clearance/internal/models"
	"github.com/rongwang/sts-clearance/internal/notification"
	"github.com/rongwang/sts-clearance/internal/repository"
	"github.com/rongwang/sts-clearance/internal/service"
)

const TestPassword = "testpassword"

// TestContext holds all dependencies for tests
type TestContext struct {
	Router        *gin.Engine
	Repository    *repository.PostgresRepository
	Service       service.Service
	Notifications notification.Store
	JWTSecret     []byte
	DB            *sqlx.DB
	TestUserID    string
	TestUserEmail string
	TestUserJWT   string

	unlock func()
}

// SetupTestContext wires the full stack against the test database. The test is
// skipped when the database cannot be reached.
func SetupTestContext(t *testing.T) *TestContext {
	t.Helper()

	cfg, err := config.LoadConfig()
	require.NoError(t, err, "Failed to load config")

	cfg.Database.DBName = cfg.Database.TestDBName
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "sts_clearance_test"
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "test-secret-key"
	}

	db, err := config.SetupDatabase(cfg)
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}

	unlock := LockTestDatabase(t, db)

	repo := repository.NewPostgresRepository(db)
	notifications := notification.NewPostgresStore(db)

	opts := dashboard.Options{CacheTTL: time.Minute}
	services := dashboard.NewServices(repo, dashboard.HashScoreProvider{}, cache.NewMemoryStore(), nil, opts)
	projection := dashboard.NewProjectionService(repo, services, notifications, nil, opts)

	svc := service.NewDefaultService(repo, notifications, nil, service.Options{
		JWTSecret: cfg.Auth.JWTSecret,
		TokenTTL:  time.Hour,
	})

	handler := api.NewHandler(svc, projection, services, nil, api.Options{
		Cache:    cache.NewMemoryStore(),
		CacheTTL: time.Minute,
		Ready:    db.PingContext,
	})

	gin.SetMode(gin.TestMode)
	router := api.NewRouter(handler, cfg.Auth.JWTSecret, nil)

	cleanupTestDatabase(t, db)
	user, token := CreateTestUser(t, repo, cfg.Auth.JWTSecret, models.PartyRoleCharterer)

	return &TestContext{
		Router:        router,
		Repository:    repo,
		Service:       svc,
		Notifications: notifications,
		JWTSecret:     []byte(cfg.Auth.JWTSecret),
		DB:            db,
		TestUserID:    user.ID,
		TestUserEmail: user.Email,
		TestUserJWT:   token,
		unlock:        unlock,
	}
}

// CleanupTestContext cleans up test resources
func CleanupTestContext(t *TestContext) {
	if t.DB != nil {
		cleanupTestDatabase(nil, t.DB)
		t.unlock()
		t.DB.Close()
	}
}

// testLockKey identifies the advisory lock shared by every suite using the test database
const testLockKey = 7301

// LockTestDatabase serialises test packages that share the test database. The lock is
// held on a dedicated connection until the returned func is called.
func LockTestDatabase(t *testing.T, db *sqlx.DB) func() {
	t.Helper()

	ctx := context.Background()
	conn, err := db.Conn(ctx)
	require.NoError(t, err, "Failed to reserve lock connection")
	_, err = conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", testLockKey)
	require.NoError(t, err, "Failed to take test database lock")

	return func() {
		_, _ = conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", testLockKey)
		_ = conn.Close()
	}
}

// document_types is seeded by migration and kept
var testTables = []string{
	"notifications",
	"activity_logs",
	"crew_certifications",
	"findings",
	"metrics",
	"party_metrics",
	"approvals",
	"documents",
	"vessels",
	"parties",
	"rooms",
	"users",
}

func cleanupTestDatabase(t *testing.T, db *sqlx.DB) {
	for _, table := range testTables {
		if _, err := db.Exec("DELETE FROM " + table); err != nil && t != nil {
			t.Logf("Warning: Failed to clean %s: %v", table, err)
		}
	}
}

// CreateTestUser inserts an active user with the given role and signs a token for it
func CreateTestUser(t *testing.T, repo repository.Repository, jwtSecret, role string) (*models.User, string) {
	t.Helper()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.DefaultCost)
	require.NoError(t, err)

	now := time.Now().UTC()
	user := &models.User{
		ID:        uuid.New().String(),
		Email:     fmt.Sprintf("%s-%s@example.com", role, uuid.New().String()[:8]),
		Name:      "Test " + role,
		Password:  string(hashedPassword),
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.CreateUser(context.Background(), user), "Failed to create test user")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.ID,
		"role":  user.Role,
		"email": user.Email,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
	})
	tokenString, err := token.SignedString([]byte(jwtSecret))
	require.NoError(t, err, "Failed to generate JWT token")

	return user, tokenString
}

// PerformRequest executes an HTTP request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// AuthHeaders returns headers with Authorization token
func AuthHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}
}

// DecodeJSON unmarshals a recorded response body
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), "body: %s", w.Body.String())
}
