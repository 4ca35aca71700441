package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/itd-tools/erp-change-portal/internal/dto"
	"github.com/itd-tools/erp-change-portal/internal/models"
	appErrors "github.com/itd-tools/erp-change-portal/pkg/errors"
)

type mockAuthStore struct {
	user             *models.User
	refreshTokens    map[string]*models.RefreshToken
	revokedIDs       []string
	lastLoginUpdated bool
}

func (m *mockAuthStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.user == nil || m.user.Username != username {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockAuthStore) FindByID(ctx context.Context, id int64) (*models.User, error) {
	if m.user == nil || m.user.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockAuthStore) UpdateLastLogin(ctx context.Context, id int64, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthStore) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthStore) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthStore) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	m.revokedIDs = append(m.revokedIDs, id)
	for _, rt := range m.refreshTokens {
		if rt.ID == id {
			rt.Revoked = true
		}
	}
	return nil
}

func (m *mockAuthStore) RevokeUserRefreshTokens(ctx context.Context, userID int64) error {
	return nil
}

func newAuthFixture(t *testing.T) (*AuthService, *mockAuthStore) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	store := &mockAuthStore{user: &models.User{
		ID:           100,
		Username:     "lin",
		Name:         "Lin",
		Department:   "Accounting",
		Role:         models.RoleUser,
		PasswordHash: string(hash),
		Active:       true,
	}}
	svc := NewAuthService(store, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "erp-change-portal",
	})
	return svc, store
}

func TestAuthLogin(t *testing.T) {
	svc, store := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), dto.LoginRequest{Username: "lin", Password: "s3cret"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	assert.True(t, store.lastLoginUpdated)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(100), claims.UserID)
	assert.Equal(t, "Accounting", claims.Department)
	assert.Equal(t, models.RoleUser, claims.Role)
}

func TestAuthLoginFailures(t *testing.T) {
	tests := []struct {
		name  string
		req   dto.LoginRequest
		setup func(store *mockAuthStore)
		want  *appErrors.Error
	}{
		{"empty payload", dto.LoginRequest{}, nil, appErrors.ErrValidation},
		{"unknown user", dto.LoginRequest{Username: "ghost", Password: "x"}, nil, appErrors.ErrInvalidCredentials},
		{"wrong password", dto.LoginRequest{Username: "lin", Password: "wrong"}, nil, appErrors.ErrInvalidCredentials},
		{"inactive account", dto.LoginRequest{Username: "lin", Password: "s3cret"},
			func(store *mockAuthStore) { store.user.Active = false }, appErrors.ErrInactiveAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newAuthFixture(t)
			if tt.setup != nil {
				tt.setup(store)
			}
			_, err := svc.Login(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, tt.want))
		})
	}
}

func TestAuthRefreshRotation(t *testing.T) {
	svc, _ := newAuthFixture(t)

	login, err := svc.Login(context.Background(), dto.LoginRequest{Username: "lin", Password: "s3cret"})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(context.Background(), dto.RefreshRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// The presented token was burned, so a second use is refused.
	_, err = svc.Refresh(context.Background(), dto.RefreshRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestAuthRefreshExpired(t *testing.T) {
	svc, store := newAuthFixture(t)

	login, err := svc.Login(context.Background(), dto.LoginRequest{Username: "lin", Password: "s3cret"})
	require.NoError(t, err)
	store.refreshTokens[login.RefreshToken].ExpiresAt = time.Now().UTC().Add(-time.Minute)

	_, err = svc.Refresh(context.Background(), dto.RefreshRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestAuthLogout(t *testing.T) {
	svc, store := newAuthFixture(t)

	login, err := svc.Login(context.Background(), dto.LoginRequest{Username: "lin", Password: "s3cret"})
	require.NoError(t, err)

	t.Run("wrong owner", func(t *testing.T) {
		err := svc.Logout(context.Background(), login.RefreshToken, 999)
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	})

	t.Run("owner", func(t *testing.T) {
		require.NoError(t, svc.Logout(context.Background(), login.RefreshToken, 100))
		require.Len(t, store.revokedIDs, 1)
	})
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	svc, _ := newAuthFixture(t)
	other := NewAuthService(&mockAuthStore{}, nil, nil, AuthConfig{
		AccessTokenSecret: "other-secret",
		AccessTokenExpiry: 15 * time.Minute,
	})

	token, err := other.generateAccessToken(&models.User{ID: 1, Username: "x"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}
