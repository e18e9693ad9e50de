package user

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/plumaapp/pluma-server/cmd/models"
	"github.com/plumaapp/pluma-server/service/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Follow{}, &models.PasswordResetToken{},
		&models.Device{}, &models.NotificationHistory{},
	))
	return db
}

func newTestHandler(db *gorm.DB) *Handler {
	return NewHandler(db, notification.NewNotifier(db), models.NewHub())
}

func registerUser(t *testing.T, h *Handler, name, username, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"name":     name,
		"username": username,
		"email":    email,
		"password": password,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleRegister(rec, req)
	return rec
}

func loginUser(t *testing.T, h *Handler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleLogin(rec, req)
	return rec
}

func TestRegisterAndLogin(t *testing.T) {
	t.Setenv("SECRET_KEY", "test-secret")
	db := setupTestDB(t)
	h := newTestHandler(db)

	rec := registerUser(t, h, "Ada Lovelace", "Ada", "ada@example.com", "password123")
	require.Equal(t, http.StatusCreated, rec.Code)

	// Usernames are normalized to lower case on write, so login is
	// case-insensitive.
	var stored models.User
	require.NoError(t, db.Where("username = ?", "ada").First(&stored).Error)
	assert.Equal(t, "ada", stored.Username)

	rec = loginUser(t, h, "ADA", "password123")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		AccessToken  string                 `json:"access_token"`
		RefreshToken string                 `json:"refresh_token"`
		User         map[string]interface{} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "ada", resp.User["username"])
}

func TestRegisterDuplicateUsername(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)

	rec := registerUser(t, h, "Ada", "ada", "ada@example.com", "password123")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = registerUser(t, h, "Other Ada", "ada", "other@example.com", "password123")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Username is already taken")
}

func TestRegisterDuplicateEmail(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)

	rec := registerUser(t, h, "Ada", "ada", "ada@example.com", "password123")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = registerUser(t, h, "Other", "other", "ada@example.com", "password123")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Email is already in use")
}

func TestRegisterMissingFields(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)

	rec := registerUser(t, h, "Ada", "", "ada@example.com", "password123")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing required fields")
}

func TestRegisterShortPassword(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)

	rec := registerUser(t, h, "Ada", "ada", "ada@example.com", "12345")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "at least 6 characters")
}

func TestLoginUnknownUsername(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)

	rec := loginUser(t, h, "ghost", "password123")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Username not found")
}

func TestLoginWrongPassword(t *testing.T) {
	t.Setenv("SECRET_KEY", "test-secret")
	db := setupTestDB(t)
	h := newTestHandler(db)

	rec := registerUser(t, h, "Ada", "ada", "ada@example.com", "password123")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = loginUser(t, h, "ada", "wrong-password")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid credentials")
}

func TestRefreshTokenRotation(t *testing.T) {
	t.Setenv("SECRET_KEY", "test-secret")
	db := setupTestDB(t)
	h := newTestHandler(db)

	rec := registerUser(t, h, "Ada", "ada", "ada@example.com", "password123")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = loginUser(t, h, "ada", "password123")
	require.Equal(t, http.StatusOK, rec.Code)

	var loginResp struct {
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loginResp))

	body, err := json.Marshal(map[string]string{"refresh_token": loginResp.RefreshToken})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	h.handleRefreshToken(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var refreshResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshResp))
	assert.NotEmpty(t, refreshResp.AccessToken)
	assert.NotEqual(t, loginResp.RefreshToken, refreshResp.RefreshToken)

	// The old token is gone after rotation.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/refresh", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	h.handleRefreshToken(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
