package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestBaseFromAPI(t *testing.T) {
	assert.Equal(t, "http://localhost:8000", BaseFromAPI("http://localhost:8000/api"))
	assert.Equal(t, "http://localhost:8000", BaseFromAPI("http://localhost:8000/api/"))
	assert.Equal(t, "http://localhost:8000", BaseFromAPI("http://localhost:8000"))
	assert.Equal(t, "http://x/apis", BaseFromAPI("http://x/apis"))
}

func TestSession_PersistsAndClears(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	s, err := OpenSession(path)
	require.NoError(t, err)
	_, err = s.Token()
	assert.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, s.SetAccessToken("tok"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := OpenSession(path)
	require.NoError(t, err)
	tok, err := again.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.AccessToken)

	require.NoError(t, again.Clear())
	assert.False(t, again.Authenticated())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, again.Clear(), "clearing twice is fine")
}

func TestSession_ExpiredTokenIsNoSession(t *testing.T) {
	s, err := OpenSession("")
	require.NoError(t, err)
	require.NoError(t, s.Set(&oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Hour)}))
	assert.False(t, s.Authenticated())
}

func TestLogin_FormAndToken(t *testing.T) {
	var form map[string]string
	var meAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			_ = r.ParseForm()
			form = map[string]string{}
			for k := range r.PostForm {
				form[k] = r.PostForm.Get(k)
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "jwt", "token_type": "bearer"})
		case "/users/me":
			meAuth = r.Header.Get("Authorization")
			_, _ = w.Write([]byte(`{"email":"a@b.c"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	s, err := OpenSession(filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, err)
	c := NewClient(srv.URL+"/api", s, time.Second)

	res, err := c.Login(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, "jwt", res.AccessToken)
	assert.Equal(t, "a@b.c", form["username"])
	assert.Equal(t, "password", form["grant_type"])
	assert.True(t, s.Authenticated())

	me, err := c.WhoAmI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", me["email"])
	assert.Equal(t, "Bearer jwt", meAuth)
}

func TestLogout_ClearsEvenOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	s, err := OpenSession("")
	require.NoError(t, err)
	require.NoError(t, s.SetAccessToken("x"))

	err = NewClient(srv.URL, s, time.Second).Logout(context.Background())
	var ae *Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, http.StatusInternalServerError, ae.Status)
	assert.Equal(t, "nope", ae.Message)
	assert.False(t, s.Authenticated())
}

func TestPasswordEndpoints(t *testing.T) {
	got := map[string]map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		got[r.URL.Path] = body
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, nil, 0)
	ctx := context.Background()

	m, err := c.Register(ctx, "e@x", "pw")
	require.NoError(t, err)
	assert.Equal(t, "ok", m.Message)
	_, err = c.ForgotPassword(ctx, "e@x")
	require.NoError(t, err)
	_, err = c.ResetPassword(ctx, ResetParams{AccessToken: "a", RefreshToken: "r", NewPassword: "n"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"email": "e@x", "password": "pw"}, got["/auth/register"])
	assert.Equal(t, map[string]string{"email": "e@x"}, got["/auth/forgot-password"])
	assert.Equal(t, "n", got["/auth/reset-password"]["new_password"])
}
