package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callcenter/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1700000000, 0).UTC()

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	require.NoError(t, err)
	return m
}

func TestNewManagerValidatesConfig(t *testing.T) {
	_, err := NewManager(config.AuthConfig{AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	assert.Error(t, err, "no secret")
	_, err = NewManager(config.AuthConfig{JWTSecret: "s"})
	assert.Error(t, err, "no TTLs")
}

func TestIssueAndVerifyPair(t *testing.T) {
	m := newManager(t)
	pair, err := m.IssuePair(t0, Identity{UserID: "user-1", WorkspaceID: "ws-1", Role: "agent", AgentID: "a1"})
	require.NoError(t, err)
	assert.True(t, pair.ExpiresAt.Equal(t0.Add(15*time.Minute)), "expiry %v", pair.ExpiresAt)

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "user-1", WorkspaceID: "ws-1", Role: "agent", AgentID: "a1"}, claims.Identity())
	assert.Equal(t, "user-1", claims.Subject)

	_, err = m.Verify(pair.RefreshToken, TokenTypeRefresh, t0)
	assert.NoError(t, err)
}

func TestIssueRequiresAgentBinding(t *testing.T) {
	m := newManager(t)
	_, err := m.IssuePair(t0, Identity{UserID: "u", WorkspaceID: "w", Role: "agent"})
	assert.ErrorIs(t, err, ErrMissingClaim)

	_, err = m.IssuePair(t0, Identity{UserID: "u", WorkspaceID: "w", Role: "supervisor"})
	assert.NoError(t, err, "supervisor without agent")
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m := newManager(t)
	p, err := m.IssuePair(t0, Identity{UserID: "u", WorkspaceID: "w", Role: "owner"})
	require.NoError(t, err)

	_, err = m.Verify(p.RefreshToken, TokenTypeAccess, t0)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	m := newManager(t)
	p, err := m.IssuePair(t0, Identity{UserID: "u", WorkspaceID: "w", Role: "agent", AgentID: "a1"})
	require.NoError(t, err)

	_, err = m.Verify(p.AccessToken, TokenTypeAccess, t0.Add(time.Hour))
	assert.Error(t, err, "expired")

	other, err := NewManager(config.AuthConfig{JWTSecret: "other", JWTIssuer: "issuer", JWTAudience: "aud", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	require.NoError(t, err)
	_, err = other.Verify(p.AccessToken, TokenTypeAccess, t0)
	assert.Error(t, err, "signature mismatch")
}

func TestRefresh(t *testing.T) {
	m := newManager(t)
	p, err := m.IssuePair(t0, Identity{UserID: "u", WorkspaceID: "w", Role: "agent", AgentID: "a1"})
	require.NoError(t, err)

	later := t0.Add(2 * time.Hour)
	next, err := m.Refresh(p.RefreshToken, later)
	require.NoError(t, err)
	claims, err := m.Verify(next.AccessToken, TokenTypeAccess, later)
	require.NoError(t, err)
	assert.Equal(t, "a1", claims.AgentID)
	assert.Equal(t, "agent", claims.Role)

	_, err = m.Refresh(p.AccessToken, t0)
	assert.ErrorIs(t, err, ErrWrongTokenType)
	_, err = m.Refresh(p.RefreshToken, t0.Add(48*time.Hour))
	assert.Error(t, err, "expired refresh token")
}

func TestBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := map[string]struct {
		header string
		want   string
		ok     bool
	}{
		"bearer":    {"Bearer abc", "abc", true},
		"lowercase": {"bearer abc", "abc", true},
		"padded":    {"  Bearer   abc ", "abc", true},
		"basic":     {"Basic abc", "", false},
		"empty":     {"", "", false},
		"no token":  {"Bearer ", "", false},
		"no scheme": {"abc", "", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Request.Header.Set("Authorization", tc.header)
			got, ok := BearerToken(c)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

func TestRequireAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newManager(t)
	now := t0
	m.SetClock(func() time.Time { return now })
	p, err := m.IssuePair(t0, Identity{UserID: "u", WorkspaceID: "w", Role: "agent", AgentID: "a1"})
	require.NoError(t, err)

	var got Identity
	r := gin.New()
	r.GET("/x", RequireAccessToken(m), func(c *gin.Context) {
		got, _ = IdentityFrom(c.Request.Context())
		c.Status(http.StatusOK)
	})
	call := func(header string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusOK, call("Bearer "+p.AccessToken).Code)
	assert.Equal(t, "a1", got.AgentID)
	assert.Equal(t, "w", got.WorkspaceID)
	assert.Equal(t, http.StatusUnauthorized, call("").Code, "no token")
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+p.RefreshToken).Code, "refresh token")

	now = t0.Add(time.Hour)
	w := call("Bearer " + p.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "token expired")
}
