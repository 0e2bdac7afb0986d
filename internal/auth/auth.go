package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ernie/whitelister/internal/config"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrDisabled           = errors.New("admin authentication is not configured")
)

// Claims represents the JWT claims for an authenticated operator
type Claims struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Service handles authentication operations
type Service struct {
	jwtSecret     []byte
	tokenDuration time.Duration
	admins        map[string]string // username -> bcrypt hash
}

// NewService creates a new auth service. With an empty secret every token
// is rejected.
func NewService(jwtSecret string, tokenDuration time.Duration, admins []config.Admin) *Service {
	if tokenDuration == 0 {
		tokenDuration = 24 * time.Hour
	}
	s := &Service{
		jwtSecret:     []byte(jwtSecret),
		tokenDuration: tokenDuration,
		admins:        make(map[string]string, len(admins)),
	}
	for _, a := range admins {
		s.admins[a.Username] = a.PasswordHash
	}
	return s
}

// Enabled reports whether tokens can be issued
func (s *Service) Enabled() bool {
	return len(s.jwtSecret) > 0
}

// HashPassword creates a bcrypt hash of a password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// CheckPassword compares a password against a hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Authenticate checks operator credentials and returns a token
func (s *Service) Authenticate(username, password string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	hash, ok := s.admins[username]
	if !ok || !CheckPassword(password, hash) {
		return "", ErrInvalidCredentials
	}
	return s.GenerateToken(username, true)
}

// GenerateToken creates a JWT for an operator
func (s *Service) GenerateToken(username string, isAdmin bool) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	claims := Claims{
		Username: username,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken validates a JWT and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if !s.Enabled() {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
