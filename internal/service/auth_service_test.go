package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/qs3c/style_go_server/config"
	"github.com/qs3c/style_go_server/internal/model/dto"
	"github.com/qs3c/style_go_server/internal/pkg/jwt"
	"github.com/qs3c/style_go_server/internal/pkg/oauth"
	"github.com/qs3c/style_go_server/internal/repository"
	"github.com/qs3c/style_go_server/internal/testutil"
)

const testJWTSecret = "test-secret"

type fakeGithub struct {
	profile *oauth.Profile
	err     error
}

func (f *fakeGithub) Enabled() bool { return true }

func (f *fakeGithub) GetAuthURL(state string) string {
	return "https://github.com/login/oauth/authorize?state=" + state
}

func (f *fakeGithub) Authenticate(context.Context, string) (*oauth.Profile, error) {
	return f.profile, f.err
}

func setupAuthService(t *testing.T, gh GithubAuthenticator) (*AuthService, *gorm.DB) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := &config.Config{JWT: config.JWTConfig{Secret: testJWTSecret, ExpireHours: 1}}
	userRepo := repository.NewUserRepository(db)
	users := NewUserService(userRepo, nil, cfg)
	return NewAuthService(userRepo, users, gh, cfg), db
}

func TestAuthService_Login(t *testing.T) {
	svc, db := setupAuthService(t, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	user := testutil.TestUser(t, db, testutil.WithEmail("login@example.com"), testutil.WithPasswordHash(string(hash)))

	resp, err := svc.Login(context.Background(), &dto.LoginRequest{Email: "login@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, resp.User.ID)

	claims, err := jwt.ParseToken(resp.Token, testJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.False(t, claims.HasIdentity())
}

func TestAuthService_Login_InvalidCredentials(t *testing.T) {
	svc, db := setupAuthService(t, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	testutil.TestUser(t, db, testutil.WithEmail("login@example.com"), testutil.WithPasswordHash(string(hash)))
	testutil.TestUser(t, db, testutil.WithEmail("nopass@example.com"))

	tests := []struct {
		name  string
		email string
		pass  string
	}{
		{"wrong password", "login@example.com", "nope"},
		{"unknown email", "ghost@example.com", "password123"},
		{"no password set", "nopass@example.com", "password123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), &dto.LoginRequest{Email: tt.email, Password: tt.pass})
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestAuthService_GithubCallback(t *testing.T) {
	gh := &fakeGithub{profile: &oauth.Profile{
		Provider:  oauth.ProviderGithub,
		Subject:   "1001",
		Email:     "gh@example.com",
		Name:      "GH User",
		AvatarURL: "https://avatars.example.com/1001",
	}}
	svc, _ := setupAuthService(t, gh)
	ctx := context.Background()

	first, err := svc.GithubCallback(ctx, "code")
	require.NoError(t, err)

	claims, err := jwt.ParseToken(first.Token, testJWTSecret)
	require.NoError(t, err)
	assert.True(t, claims.HasIdentity())
	assert.Equal(t, "1001", claims.ExternalID)
	assert.Equal(t, first.User.ID, claims.UserID)

	second, err := svc.GithubCallback(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, second.User.ID)
}

func TestAuthService_GithubCallback_Error(t *testing.T) {
	svc, _ := setupAuthService(t, &fakeGithub{err: errors.New("bad code")})

	_, err := svc.GithubCallback(context.Background(), "code")
	assert.Error(t, err)
	assert.True(t, svc.GithubEnabled())
	assert.Contains(t, svc.GetGithubAuthURL("abc"), "state=abc")
}

func TestAuthService_GithubDisabled(t *testing.T) {
	svc, _ := setupAuthService(t, nil)
	assert.False(t, svc.GithubEnabled())
}
