package auth

import (
	"errors"
	"time"

	"github.com/clinic/backend/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Staff roles recognized by the billing service
const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
	RoleClinic  = "clinician"
)

// Common errors
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
	ErrMissingStaff  = errors.New("missing staff_id in claims")
)

// Claims represents the staff identity carried in a token
type Claims struct {
	jwt.RegisteredClaims
	StaffID string `json:"staff_id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
}

// StaffID returns the parsed staff UUID
func (c *Claims) StaffUUID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.StaffID)
	if err != nil {
		return uuid.Nil, ErrMissingStaff
	}
	return id, nil
}

// CanHandleMoney reports whether the role may submit payments and refunds
func (c *Claims) CanHandleMoney() bool {
	return c.Role == RoleAdmin || c.Role == RoleCashier
}

// JWTService handles JWT token operations
type JWTService struct {
	secret     []byte
	expiration time.Duration
	issuer     string
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.JWTConfig) *JWTService {
	return &JWTService{
		secret:     []byte(cfg.Secret),
		expiration: cfg.Expiration,
		issuer:     cfg.Issuer,
	}
}

// GenerateToken issues a signed token for a staff member
func (s *JWTService) GenerateToken(staffID uuid.UUID, name, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   staffID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		StaffID: staffID.String(),
		Name:    name,
		Role:    role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken parses and validates a token, returning its claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.StaffID == "" {
		return nil, ErrMissingStaff
	}
	return claims, nil
}
