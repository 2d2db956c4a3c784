package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(), Identity(secret))
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, User(c)) })
	return r
}

func get(r http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdentityFromHeader(t *testing.T) {
	w := get(newEngine(""), map[string]string{UserHeader: "u1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestIdentityMissing(t *testing.T) {
	w := get(newEngine(""), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIdentityBearerSubjectWins(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "from-token",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("s3cret"))
	require.NoError(t, err)

	w := get(newEngine("s3cret"), map[string]string{"Authorization": "Bearer " + signed, UserHeader: "u1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "from-token", w.Body.String())

	w = get(newEngine("other"), map[string]string{"Authorization": "Bearer " + signed, UserHeader: "u1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
