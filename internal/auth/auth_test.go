package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "latecomers"
)

func TestIssueAndVerify(t *testing.T) {
	tok, err := Issue("station-1", testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)

	id, err := JWTVerifier{SigningKey: testKey, Issuer: testIssuer}.Verify(context.Background(), tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "station-1", id)
}

func TestVerifyRejects(t *testing.T) {
	v := JWTVerifier{SigningKey: testKey, Issuer: testIssuer}
	ctx := context.Background()

	wrongKey, err := Issue("station-1", testIssuer, "other-key", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(ctx, wrongKey.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	wrongIssuer, err := Issue("station-1", "someone-else", testKey, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(ctx, wrongIssuer.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	expired, err := Issue("station-1", testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(ctx, expired.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = v.Verify(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestParseRejectsOtherRoles(t *testing.T) {
	claims := Claims{
		Subject: "station-1",
		Role:    "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testKey))
	require.NoError(t, err)

	_, err = Parse(signed, testKey, testIssuer)
	assert.Error(t, err)
}

func TestIssueRequiresAccountAndKey(t *testing.T) {
	_, err := Issue("", testIssuer, testKey, time.Hour)
	assert.Error(t, err)
	_, err = Issue("station-1", testIssuer, "", time.Hour)
	assert.Error(t, err)
}

func TestSharedSecret(t *testing.T) {
	assert.True(t, SharedSecret("s3cret", "s3cret"))
	assert.False(t, SharedSecret("s3cret", "s3cre"))
	assert.False(t, SharedSecret("s3cret", ""))
	assert.False(t, SharedSecret("", ""))
}

func TestScannerAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", ScannerAuth(JWTVerifier{SigningKey: testKey, Issuer: testIssuer}), func(c *gin.Context) {
		c.String(http.StatusOK, AccountID(c))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tok, err := Issue("station-9", testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "station-9", w.Body.String())
}
