package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrKeyRevoked         = errors.New("api key revoked")
	ErrUserDisabled       = errors.New("user disabled")
)

// APIKeyPrefix starts every raw key handed out by CreateAPIKey.
const APIKeyPrefix = "kb_"

// Principal is the authenticated identity behind a request.
type Principal struct {
	UserID string
	Email  string
	Role   string
	KeyID  string // set when authenticated by API key
}

// IsAdmin reports whether the principal holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == model.RoleAdmin
}

// ID returns the user id, or "" for a nil principal.
func (p *Principal) ID() string {
	if p == nil {
		return ""
	}
	return p.UserID
}

type AuthService struct {
	store     *store.Store
	jwtSecret []byte
	logger    *slog.Logger
}

func NewAuthService(st *store.Store, jwtSecret string, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		store:     st,
		jwtSecret: []byte(jwtSecret),
		logger:    logger,
	}
}

// HashPassword returns the bcrypt hash stored for a user password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// CreateUser hashes password and stores a new active user.
func (s *AuthService) CreateUser(ctx context.Context, email, name, password, role string) (*model.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login checks an email/password pair and returns the user on success. Unknown
// emails and wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrUserDisabled
	}
	if err := s.store.UpdateUserLastLogin(ctx, u.ID); err != nil {
		s.logger.Warn("update last login", "user_id", u.ID, "error", err)
	}
	return u, nil
}

// ValidateAPIKey checks the provided raw API key against stored key hashes
// and resolves the owning user.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey string) (*Principal, error) {
	key, err := s.store.GetAPIKeyByHash(ctx, store.HashAPIKey(rawKey))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !key.IsActive {
		return nil, ErrKeyRevoked
	}

	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, ErrTokenExpired
	}

	u, err := s.store.GetUser(ctx, key.UserID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrUserDisabled
	}

	// Update last used timestamp (fire and forget)
	go func(id string) {
		if err := s.store.UpdateAPIKeyLastUsed(context.Background(), id); err != nil {
			s.logger.Debug("update api key last used", "key_id", id, "error", err)
		}
	}(key.ID)

	return &Principal{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
		KeyID:  key.ID,
	}, nil
}

// ValidateJWT verifies a JWT bearer token and returns the identity it carries.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*Principal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidCredentials
	}

	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidCredentials
	}

	return &Principal{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}

// IssueJWT creates a new signed JWT token for the given user.
func (s *AuthService) IssueJWT(ctx context.Context, u *model.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "kitbay",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// CreateAPIKey generates a random key for userID, stores its hash and
// returns the raw key. The raw key cannot be recovered afterwards.
func (s *AuthService) CreateAPIKey(ctx context.Context, userID, label string, ttl time.Duration) (string, *model.APIKey, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate api key: %w", err)
	}
	raw := APIKeyPrefix + hex.EncodeToString(buf)

	key := &model.APIKey{
		UserID:    userID,
		KeyHash:   store.HashAPIKey(raw),
		KeyPrefix: raw[:len(APIKeyPrefix)+8],
		Label:     strings.TrimSpace(label),
		IsActive:  true,
	}
	if ttl > 0 {
		exp := time.Now().Add(ttl)
		key.ExpiresAt = &exp
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}
	return raw, key, nil
}

type jwtClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}
