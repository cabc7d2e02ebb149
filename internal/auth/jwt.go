package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gravity.com/gravity-chat/internal/store"
)

const tokenTypeReset = "reset"

var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of both access and reset tokens. Reset tokens carry
// only Email and Type.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
	Type   string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secret   []byte
	ttl      time.Duration
	resetTTL time.Duration
	now      func() time.Time
}

func NewTokenService(secret string, ttl, resetTTL time.Duration) *TokenService {
	return &TokenService{
		secret:   []byte(secret),
		ttl:      ttl,
		resetTTL: resetTTL,
		now:      time.Now,
	}
}

func (s *TokenService) GenerateAccessToken(user *store.User) (string, error) {
	return s.sign(Claims{
		UserID: user.UserID,
		Email:  user.Email,
		Role:   user.EffectiveRole(),
	}, s.ttl)
}

func (s *TokenService) GenerateResetToken(email string) (string, error) {
	return s.sign(Claims{Email: email, Type: tokenTypeReset}, s.resetTTL)
}

func (s *TokenService) sign(claims Claims, ttl time.Duration) (string, error) {
	now := s.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateAccessToken returns the claims of a valid, unexpired access token.
// Reset tokens are rejected.
func (s *TokenService) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != "" || claims.Email == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateResetToken returns the email a password-reset token was issued for.
func (s *TokenService) ValidateResetToken(tokenString string) (string, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return "", err
	}
	if claims.Type != tokenTypeReset || claims.Email == "" {
		return "", fmt.Errorf("%w: not a reset token", ErrInvalidToken)
	}
	return claims.Email, nil
}

func (s *TokenService) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
