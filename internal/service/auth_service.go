package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/prepa-tools/colloscope-api/internal/models"
	appErrors "github.com/prepa-tools/colloscope-api/pkg/errors"
)

// AuthConfig defines configuration for authentication flows. Clients are
// "client_id:bcrypt_hash:role" entries from the environment.
type AuthConfig struct {
	Clients            []string
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
}

type refreshRecord struct {
	clientID  string
	expiresAt time.Time
}

// AuthService issues and validates tokens for configured API clients.
// Refresh tokens are held in memory; the service owns no database state.
type AuthService struct {
	clients   map[string]models.Client
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig

	mu        sync.Mutex
	refresh   map[string]refreshRecord
	lastPrune time.Time
}

// NewAuthService parses the configured clients and constructs the service.
// Malformed client entries are an error: silently dropping one would lock
// that client out with no trace.
func NewAuthService(validate *validator.Validate, logger *zap.Logger, config AuthConfig) (*AuthService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}

	clients := make(map[string]models.Client, len(config.Clients))
	for _, entry := range config.Clients {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("malformed client entry %q, want id:bcrypt_hash:role", entry)
		}
		role := models.Role(strings.ToUpper(parts[2]))
		if role != models.RolePlanner && role != models.RoleViewer {
			return nil, fmt.Errorf("client %q has unknown role %q", parts[0], parts[2])
		}
		if _, dup := clients[parts[0]]; dup {
			return nil, fmt.Errorf("duplicate client id %q", parts[0])
		}
		clients[parts[0]] = models.Client{ID: parts[0], SecretHash: parts[1], Role: role}
	}

	return &AuthService{
		clients:   clients,
		validator: validate,
		logger:    logger,
		config:    config,
		refresh:   make(map[string]refreshRecord),
	}, nil
}

// IssueToken authenticates a client and returns a token pair.
func (s *AuthService) IssueToken(ctx context.Context, req models.TokenRequest) (*models.TokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid token payload")
	}

	client, ok := s.clients[req.ClientID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid client id or secret")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(req.ClientSecret)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid client id or secret")
	}

	return s.issuePair(client)
}

// Refresh rotates a refresh token for a new pair.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.TokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	s.mu.Lock()
	record, ok := s.refresh[req.RefreshToken]
	if ok {
		delete(s.refresh, req.RefreshToken)
	}
	s.mu.Unlock()

	if !ok || time.Now().UTC().After(record.expiresAt) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is expired or revoked")
	}

	client, ok := s.clients[record.clientID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "client no longer configured")
	}

	return s.issuePair(client)
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return claims, nil
}

func (s *AuthService) issuePair(client models.Client) (*models.TokenResponse, error) {
	accessToken, err := s.generateAccessToken(client)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshToken, err := generateRefreshTokenString()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.pruneLocked(now)
	s.refresh[refreshToken] = refreshRecord{
		clientID:  client.ID,
		expiresAt: now.Add(s.config.RefreshTokenExpiry),
	}
	s.mu.Unlock()

	return &models.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		Role:         client.Role,
		IssuedAt:     now,
	}, nil
}

// pruneLocked drops expired refresh tokens, at most once a minute.
func (s *AuthService) pruneLocked(now time.Time) {
	if now.Sub(s.lastPrune) < time.Minute {
		return
	}
	s.lastPrune = now
	for token, record := range s.refresh {
		if now.After(record.expiresAt) {
			delete(s.refresh, token)
		}
	}
}

func (s *AuthService) generateAccessToken(client models.Client) (string, error) {
	issuedAt := time.Now().UTC()
	claims := &models.JWTClaims{
		ClientID: client.ID,
		Role:     client.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   client.ID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.AccessTokenSecret))
}

func generateRefreshTokenString() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
