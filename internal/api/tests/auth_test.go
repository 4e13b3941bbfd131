package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rongwang/sts-clearance/internal/api/testutils"
	"github.com/rongwang/sts-clearance/internal/models"
)

func TestSignup(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	// Test case 1: Successful signup
	signupReq := models.SignUpRequest{
		Email:    "newuser@example.com",
		Password: "Password123",
		Name:     "New User",
		Role:     "broker",
		Company:  "Harbour Brokers",
	}

	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/auth/signup", signupReq, nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	var resp models.AuthResponse
	testutils.DecodeJSON(t, w, &resp)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "broker", resp.Role)

	// Test case 2: Duplicate email, compared case-insensitively
	signupReq.Email = "NewUser@Example.com"
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/auth/signup", signupReq, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Test case 3: Invalid request (missing required fields)
	invalidReq := models.SignUpRequest{
		Email: "invalid@example.com",
	}
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/auth/signup", invalidReq, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 4: Unknown role
	invalidReq = models.SignUpRequest{
		Email:    "pilot@example.com",
		Password: "Password123",
		Name:     "Pilot",
		Role:     "pilot",
	}
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/auth/signup", invalidReq, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	// Test case 1: Successful login
	loginReq := models.LoginRequest{
		Email:    testCtx.TestUserEmail,
		Password: testutils.TestPassword,
	}

	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/auth/login", loginReq, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.AuthResponse
	testutils.DecodeJSON(t, w, &resp)
	assert.Equal(t, testCtx.TestUserID, resp.UserID)
	assert.NotEmpty(t, resp.Token)

	// Test case 2: Invalid credentials
	loginReq.Password = "wrongpassword"
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/auth/login", loginReq, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Test case 3: User not found
	loginReq = models.LoginRequest{
		Email:    "nonexistent@example.com",
		Password: testutils.TestPassword,
	}
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/api/auth/login", loginReq, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	w := testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/rooms", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/dashboard", nil, testutils.AuthHeaders("not-a-jwt"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
