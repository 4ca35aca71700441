package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims are the access-token claims attached to authenticated requests.
type JWTClaims struct {
	UserID     int64    `json:"uid"`
	Username   string   `json:"username"`
	Name       string   `json:"name"`
	Department string   `json:"department"`
	Role       UserRole `json:"role"`
	jwt.RegisteredClaims
}

// ActionTokenClaims are the claims of a magic-link token: a signed,
// time-limited grant for exactly one approval action by one user on one
// request, without an interactive login.
type ActionTokenClaims struct {
	UserID        int64  `json:"uid"`
	ApplicationID int64  `json:"app_id"`
	Action        string `json:"action"`
	jwt.RegisteredClaims
}

// RefreshToken is a stored opaque refresh credential.
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	UserID    int64      `db:"user_id" json:"user_id"`
	Token     string     `db:"token" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	Revoked   bool       `db:"revoked" json:"revoked"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	IPAddress string     `db:"ip_address" json:"-"`
	UserAgent string     `db:"user_agent" json:"-"`
}
