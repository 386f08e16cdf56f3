package usecases

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"salesbot/internal/config"
)

// TokenTTL is the lifetime of a panel API token.
const TokenTTL = 24 * time.Hour

var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthUsecase authenticates the single panel operator configured through
// ADMIN_USERNAME and ADMIN_PASSWORD_HASH.
type AuthUsecase struct {
	username     string
	passwordHash []byte
	jwtSecret    []byte
	now          func() time.Time
}

func NewAuthUsecase(admin config.AdminConfig) *AuthUsecase {
	return &AuthUsecase{
		username:     admin.Username,
		passwordHash: []byte(admin.PasswordHash),
		jwtSecret:    []byte(admin.JWTSecret),
		now:          time.Now,
	}
}

func (uc *AuthUsecase) Login(username, password string) (string, error) {
	if len(uc.passwordHash) == 0 || len(uc.jwtSecret) == 0 {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(uc.username)) != 1 {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(uc.passwordHash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := uc.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  uc.username,
		"role": "admin",
		"iat":  now.Unix(),
		"exp":  now.Add(TokenTTL).Unix(),
	})

	tokenString, err := token.SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// HashPassword produces the value expected in ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}
