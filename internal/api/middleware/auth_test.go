package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/style_go_server/internal/pkg/jwt"
	"github.com/qs3c/style_go_server/internal/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testJWTSecret = "test-secret-key-for-middleware"

func parseError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorBody {
	var body response.ErrorBody
	err := json.Unmarshal(w.Body.Bytes(), &body)
	require.NoError(t, err)
	return body
}

func newAuthRouter(handler gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(Auth(testJWTSecret, ""))
	router.GET("/test", handler)
	return router
}

func TestAuth_Success(t *testing.T) {
	router := newAuthRouter(func(c *gin.Context) {
		userID, ok := GetUserID(c)
		assert.True(t, ok)
		assert.Equal(t, int64(123), userID)
		claims, ok := GetClaims(c)
		assert.True(t, ok)
		assert.Equal(t, int64(123), claims.UserID)
		c.JSON(http.StatusOK, gin.H{"user_id": userID})
	})

	token, err := jwt.GenerateToken(123, testJWTSecret, 24)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_Cookie(t *testing.T) {
	router := newAuthRouter(func(c *gin.Context) {
		claims, ok := GetClaims(c)
		require.True(t, ok)
		assert.Equal(t, "github", claims.Provider)
		c.Status(http.StatusOK)
	})

	token, err := jwt.GenerateIdentityToken(9, jwt.Identity{Provider: "github", ExternalID: "1"}, testJWTSecret, 1)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/test", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_MissingCredentials(t *testing.T) {
	router := newAuthRouter(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := parseError(t, w)
	assert.Equal(t, "Unauthorized", body.Error)
	assert.Equal(t, response.CodeUnauthorized, body.Code)
}

func TestAuth_InvalidFormat_NoBearer(t *testing.T) {
	router := newAuthRouter(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	token, err := jwt.GenerateToken(123, testJWTSecret, 24)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_InvalidToken(t *testing.T) {
	router := newAuthRouter(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer invalid-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid or expired token", parseError(t, w).Error)
}

func TestAuth_WrongSecret(t *testing.T) {
	router := newAuthRouter(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	token, err := jwt.GenerateToken(123, "other-secret", 24)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_ExpiredToken(t *testing.T) {
	router := newAuthRouter(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	claims := jwt.Claims{
		UserID: 123,
		RegisteredClaims: gojwt.RegisteredClaims{
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  gojwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalAuth_WithValidToken(t *testing.T) {
	router := gin.New()
	router.Use(OptionalAuth(testJWTSecret, ""))
	router.GET("/test", func(c *gin.Context) {
		userID, ok := GetUserID(c)
		assert.True(t, ok)
		assert.Equal(t, int64(456), userID)
		c.Status(http.StatusOK)
	})

	token, err := jwt.GenerateToken(456, testJWTSecret, 24)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOptionalAuth_WithoutToken(t *testing.T) {
	router := gin.New()
	router.Use(OptionalAuth(testJWTSecret, ""))
	router.GET("/test", func(c *gin.Context) {
		_, ok := GetUserID(c)
		assert.False(t, ok)
		_, ok = GetClaims(c)
		assert.False(t, ok)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOptionalAuth_WithInvalidToken(t *testing.T) {
	router := gin.New()
	router.Use(OptionalAuth(testJWTSecret, "session"))
	router.GET("/test", func(c *gin.Context) {
		_, ok := GetUserID(c)
		assert.False(t, ok)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "garbage"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
