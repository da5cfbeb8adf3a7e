package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	adminIssuer    = "vpn-bot"
	adminTokenType = "admin"
)

// AdminTokenService emite y valida los tokens del API de administracion.
type AdminTokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type AdminClaims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

var (
	ErrJWTInvalid = errors.New("jwt invalid")
	ErrJWTExpired = errors.New("jwt expired")
)

func NewAdminTokenService(secret string, ttl time.Duration) *AdminTokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AdminTokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Enabled indica si hay secreto configurado.
func (s *AdminTokenService) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Issue firma un token de administrador para subject. ttl<=0 usa el valor por defecto.
func (s *AdminTokenService) Issue(subject string, ttl time.Duration) (string, error) {
	if !s.Enabled() {
		return "", ErrJWTInvalid
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", ErrJWTInvalid
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now().UTC()
	claims := AdminClaims{
		TokenType: adminTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    adminIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *AdminTokenService) Parse(tokenString string) (AdminClaims, error) {
	if !s.Enabled() {
		return AdminClaims{}, ErrJWTInvalid
	}
	if strings.TrimSpace(tokenString) == "" {
		return AdminClaims{}, ErrJWTInvalid
	}
	var claims AdminClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(adminIssuer),
	)
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AdminClaims{}, ErrJWTExpired
		}
		return AdminClaims{}, ErrJWTInvalid
	}
	if claims.TokenType != adminTokenType || strings.TrimSpace(claims.Subject) == "" {
		return AdminClaims{}, ErrJWTInvalid
	}
	return claims, nil
}
