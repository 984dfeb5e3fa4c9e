package auth

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

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndAuthenticate(t *testing.T) {
	m := NewManager(testSecret)

	token, err := m.IssueToken("alice", time.Hour)
	require.NoError(t, err)

	claims, err := m.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Operator)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 5*time.Second)

	// Without the prefix works too.
	_, err = m.Authenticate(token)
	assert.NoError(t, err)
}

func TestAuthenticate_Rejects(t *testing.T) {
	m := NewManager(testSecret)
	other := NewManager("another-secret-another-secret-xx")

	foreign, err := other.IssueToken("mallory", time.Hour)
	require.NoError(t, err)

	expiredMgr := NewManager(testSecret)
	expiredMgr.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredMgr.IssueToken("alice", time.Hour)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "alice"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrNoToken},
		{"garbage", "not-a-token", ErrInvalidToken},
		{"wrong secret", foreign, ErrInvalidToken},
		{"expired", expired, ErrInvalidToken},
		{"alg none", unsigned, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Authenticate(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestIssueToken_Validation(t *testing.T) {
	_, err := NewManager("").IssueToken("alice", time.Hour)
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = NewManager(testSecret).IssueToken("  ", time.Hour)
	assert.Error(t, err)

	m := NewManager(testSecret)
	token, err := m.IssueToken("bob", 0)
	require.NoError(t, err)
	claims, err := m.Authenticate(token)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), claims.ExpiresAt, 5*time.Second)
}

func runMiddleware(m *Manager, header string) (*httptest.ResponseRecorder, *gin.Context) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/v1/admin/processors/stripe/freeze", nil)
	if header != "" {
		c.Request.Header.Set("Authorization", header)
	}
	RequireOperator(m)(c)
	return w, c
}

func TestRequireOperator_ValidToken(t *testing.T) {
	m := NewManager(testSecret)
	token, err := m.IssueToken("alice", time.Hour)
	require.NoError(t, err)

	_, c := runMiddleware(m, "Bearer "+token)

	assert.False(t, c.IsAborted())
	assert.Equal(t, "alice", GetOperator(c))
}

func TestRequireOperator_MissingOrBadToken(t *testing.T) {
	m := NewManager(testSecret)

	for _, header := range []string{"", "Bearer nope"} {
		w, c := runMiddleware(m, header)
		assert.True(t, c.IsAborted())
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "unauthorized")
		assert.Empty(t, GetOperator(c))
	}
}

func TestRequireOperator_OpenManager(t *testing.T) {
	_, c := runMiddleware(NewManager(""), "")

	assert.False(t, c.IsAborted())
	assert.Equal(t, DevOperator, GetOperator(c))
}

func TestWhoami(t *testing.T) {
	m := NewManager(testSecret)
	token, err := m.IssueToken("carol", time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/auth/whoami", RequireOperator(m), Whoami)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/auth/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"operator":"carol"}`, w.Body.String())
}
