package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/itd-tools/erp-change-portal/internal/models"
	appErrors "github.com/itd-tools/erp-change-portal/pkg/errors"
)

// consumeStore marks action tokens as used. Backed by Redis in production;
// SetNX semantics make the first consumer win and every replay lose.
type consumeStore interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// TokenService mints and redeems magic-link action tokens. Each token grants
// exactly one approval action by one user on one request and is single-use:
// redemption is gated on a SETNX against the token's unique id.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	store  consumeStore
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration, store consumeStore) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		store:  store,
		now:    time.Now,
	}
}

// IssueActionToken signs a magic-link token for one action on one request.
func (s *TokenService) IssueActionToken(userID, applicationID int64, action string) (string, error) {
	now := s.now()
	claims := models.ActionTokenClaims{
		UserID:        userID,
		ApplicationID: applicationID,
		Action:        action,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    "erp-change-portal",
			Subject:   fmt.Sprintf("action:%d", applicationID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ConsumeActionToken verifies a magic-link token and burns it. The signature
// and expiry are checked first, then the token id is claimed in the consume
// store. A token seen before yields ErrInvalidState so the caller can tell
// the user the link was already used rather than that it is malformed.
func (s *TokenService) ConsumeActionToken(ctx context.Context, tokenString string) (*models.ActionTokenClaims, error) {
	claims := &models.ActionTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "action link is invalid or expired")
	}
	if claims.ID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "action link is invalid or expired")
	}

	// Keep the tombstone around slightly past the token's own expiry.
	ttl := time.Until(claims.ExpiresAt.Time) + time.Hour
	if ttl < time.Hour {
		ttl = time.Hour
	}
	fresh, err := s.store.SetNX(ctx, consumedKey(claims.ID), s.now().Unix(), ttl)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to redeem action link")
	}
	if !fresh {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "action link was already used")
	}
	return claims, nil
}

func consumedKey(tokenID string) string {
	return "action_token:used:" + tokenID
}

// RedisConsumeStore adapts a Redis client to the consume store.
type RedisConsumeStore struct {
	Client *redis.Client
}

func (r RedisConsumeStore) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return r.Client.SetNX(ctx, key, value, ttl).Result()
}
