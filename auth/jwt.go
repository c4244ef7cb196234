package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/beacon-core/models"
)

// Claims represents JWT token claims. Role and institution are carried in the
// token for observability only; access decisions always use the database
// record resolved per request, so a revoked role takes effect on the next
// call regardless of token lifetime.
type Claims struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	InstitutionID string `json:"institution_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator handles JWT token issuance and validation
type JWTValidator struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTValidator creates a new JWT validator
func NewJWTValidator(secret string, expirationSeconds int) *JWTValidator {
	return &JWTValidator{
		secret:     []byte(secret),
		expiration: time.Duration(expirationSeconds) * time.Second,
	}
}

// GenerateToken issues a signed token for a user
func (v *JWTValidator) GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
		Role:   string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.expiration)),
		},
	}
	if user.InstitutionID != nil {
		claims.InstitutionID = user.InstitutionID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a JWT token string and returns claims
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, errors.New("token missing user id")
	}

	return claims, nil
}

// ExtractUserID parses the user id claim
func (v *JWTValidator) ExtractUserID(claims *Claims) (uuid.UUID, error) {
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id in token: %w", err)
	}
	return id, nil
}
