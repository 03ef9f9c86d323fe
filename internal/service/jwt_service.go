package service

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const HasuraClaimsNamespace = "https://hasura.io/jwt/claims"

// HasuraClaims son las claims de sesión que Hasura lee del JWT.
type HasuraClaims struct {
	UserID       string   `json:"x-hasura-user-id"`
	DefaultRole  string   `json:"x-hasura-default-role,omitempty"`
	AllowedRoles []string `json:"x-hasura-allowed-roles,omitempty"`
}

type Claims struct {
	Hasura HasuraClaims `json:"https://hasura.io/jwt/claims"`
	jwt.RegisteredClaims
}

// UserID prioriza la claim de Hasura y cae al subject.
func (c Claims) UserID() string {
	if id := strings.TrimSpace(c.Hasura.UserID); id != "" {
		return id
	}
	return strings.TrimSpace(c.Subject)
}

var (
	ErrJWTInvalid = errors.New("jwt invalid")
	ErrJWTExpired = errors.New("jwt expired")
)

// JWTService valida (y para herramientas locales, emite) tokens HS256 con el
// mismo secreto que usa Hasura.
type JWTService struct {
	secret []byte
}

// NewJWTService acepta la clave cruda o el JSON de HASURA_GRAPHQL_JWT_SECRET ({"type":"HS256","key":"..."}).
func NewJWTService(secret string) *JWTService {
	return &JWTService{secret: []byte(parseJWTSecret(secret))}
}

func parseJWTSecret(secret string) string {
	secret = strings.TrimSpace(secret)
	if !strings.HasPrefix(secret, "{") {
		return secret
	}
	var cfg struct {
		Type string `json:"type"`
		Key  string `json:"key"`
	}
	if err := json.Unmarshal([]byte(secret), &cfg); err != nil || cfg.Key == "" {
		return secret
	}
	return cfg.Key
}

func (s *JWTService) Configured() bool {
	return s != nil && len(s.secret) > 0
}

// Sign emite un access token con claims de Hasura para el rol user.
func (s *JWTService) Sign(userID string, ttl time.Duration) (string, error) {
	if !s.Configured() || strings.TrimSpace(userID) == "" {
		return "", ErrJWTInvalid
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	now := time.Now().UTC()
	claims := Claims{
		Hasura: HasuraClaims{
			UserID:       userID,
			DefaultRole:  "user",
			AllowedRoles: []string{"user", "me"},
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *JWTService) ParseAccessToken(accessToken string) (Claims, error) {
	if !s.Configured() {
		return Claims{}, ErrJWTInvalid
	}
	if strings.TrimSpace(accessToken) == "" {
		return Claims{}, ErrJWTInvalid
	}

	var claims Claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	_, err := parser.ParseWithClaims(accessToken, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrJWTExpired
		}
		return Claims{}, ErrJWTInvalid
	}
	if claims.UserID() == "" {
		return Claims{}, ErrJWTInvalid
	}
	return claims, nil
}
