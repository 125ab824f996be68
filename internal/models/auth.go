package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role separates planners, who may launch and cancel solves and move pins,
// from viewers, who only read schedules and attempt history.
type Role string

const (
	RolePlanner Role = "PLANNER"
	RoleViewer  Role = "VIEWER"
)

// Client is one API consumer allowed to request tokens. Clients come from
// configuration, not from a database.
type Client struct {
	ID         string
	SecretHash string
	Role       Role
}

// TokenRequest holds client credentials for the token endpoint.
type TokenRequest struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
}

// TokenResponse returns the issued token pair.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	Role         Role      `json:"role"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RefreshRequest exchanges a refresh token for a new pair.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ClientInfo describes the authenticated client in responses.
type ClientInfo struct {
	ClientID string `json:"client_id"`
	Role     Role   `json:"role"`
}

// JWTClaims is the access token payload.
type JWTClaims struct {
	ClientID string `json:"client_id"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}
