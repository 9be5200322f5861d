package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutormarket/internal/model"
)

const (
	testKey    = "test-key"
	testIssuer = "tutormarket-test"
)

type syncRecorder struct {
	mu    sync.Mutex
	users []model.User
	roles map[string]model.Role
}

func (s *syncRecorder) SyncUser(_ context.Context, u model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, u)
	if r, ok := s.roles[u.ID]; ok {
		u.Role = r
	}
	return u, nil
}

func TestIssueParseRoundTrip(t *testing.T) {
	u := model.User{ID: "stu@x.com", Name: "Stu", Role: model.RoleStudent}
	token, exp, err := Issue(u, testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	claims, err := Parse(token, testKey, testIssuer)
	require.NoError(t, err)
	got, err := claims.User(nil)
	require.NoError(t, err)
	assert.Equal(t, u, got)

	_, err = Parse(token, "other-key", testIssuer)
	assert.Error(t, err)
	unverified, err := ParseUnverified(token)
	require.NoError(t, err)
	assert.Equal(t, "stu@x.com", unverified.Email)
	_, err = Parse(token, testKey, "someone-else")
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	token, _, err := Issue(model.User{ID: "a@x.com", Role: model.RoleTutor}, testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(token, testKey, testIssuer)
	assert.Error(t, err)
}

func TestClaimsUser(t *testing.T) {
	u, err := Claims{Email: "Boss@X.com", Role: "student"}.User([]string{"boss@x.com"})
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, u.Role)
	assert.Equal(t, "boss@x.com", u.ID)
	assert.Equal(t, "boss@x.com", u.Name)

	_, err = Claims{Email: "a@x.com", Role: "system"}.User(nil)
	assert.Error(t, err)
	_, err = Claims{Role: "tutor"}.User(nil)
	assert.Error(t, err)
}

func TestBearerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := &syncRecorder{}
	r := gin.New()
	r.GET("/me", Bearer(Config{SigningKey: testKey, Issuer: testIssuer, Syncer: rec}), func(c *gin.Context) {
		u, ok := CurrentUser(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, u)
	})

	token, _, err := Issue(model.User{ID: "tut@x.com", Name: "Tut", Role: model.RoleTutor}, testIssuer, testKey, time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
		{"header", "Bearer " + token, "", http.StatusOK},
		{"lowercase scheme", "bearer " + token, "", http.StatusOK},
		{"query", "", token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me?token="+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
	assert.Len(t, rec.users, 3)
	assert.Equal(t, "tut@x.com", rec.users[0].ID)
}

func TestBearerPrefersStoredRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := &syncRecorder{roles: map[string]model.Role{
		"tut@x.com":  model.RoleAdmin,
		"boss@x.com": model.RoleStudent,
	}}
	r := gin.New()
	r.GET("/me", Bearer(Config{SigningKey: testKey, Issuer: testIssuer, AdminEmails: []string{"boss@x.com"}, Syncer: rec}), func(c *gin.Context) {
		u, _ := CurrentUser(c)
		c.String(http.StatusOK, string(u.Role))
	})

	for email, want := range map[string]string{
		"tut@x.com":  "admin",
		"boss@x.com": "admin",
		"new@x.com":  "tutor",
	} {
		token, _, err := Issue(model.User{ID: email, Role: model.RoleTutor}, testIssuer, testKey, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Body.String(), email)
	}
}
