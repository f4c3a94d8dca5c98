package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Service issues and validates the bearer JWTs used when the
// configured auth scheme is "jwt". Tokens are signed with the HS256
// secret from the auth.jwt_secret config key; when the key is absent a
// random per-process secret takes its place, which limits token
// validity to the lifetime of the process.
type Service struct {
	mu            sync.RWMutex
	tokens        map[string]*TokenInfo
	refreshTokens map[string]string
	revoked       map[string]struct{}
	signingKey    []byte
	tokenTTL      time.Duration
}

// TokenInfo represents a JWT token and its metadata.
type TokenInfo struct {
	Token        string
	ExpiresAt    time.Time
	RefreshToken string
	Scheme       string
}

// NewService creates a new authentication service.
func NewService() *Service {
	secret := viper.GetString("auth.jwt_secret")
	if secret == "" {
		secret = uuid.NewString()
	}

	ttl := viper.GetDuration("auth.token_ttl")
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Service{
		tokens:        make(map[string]*TokenInfo),
		refreshTokens: make(map[string]string),
		revoked:       make(map[string]struct{}),
		signingKey:    []byte(secret),
		tokenTTL:      ttl,
	}
}

func (s *Service) getSigningKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return s.signingKey, nil
}

// Authorize implements Authorizer. It accepts requests carrying a
// bearer JWT that verifies against the signing key, has not expired
// and has not been revoked.
func (s *Service) Authorize(headers Header) bool {
	tokenStr, ok := bearerToken(headers)
	if !ok {
		return false
	}

	s.mu.RLock()
	_, revoked := s.revoked[tokenStr]
	s.mu.RUnlock()

	if revoked {
		return false
	}

	token, err := jwt.Parse(tokenStr, s.getSigningKey)
	if err != nil {
		return false
	}

	return token.Valid
}

// GenerateToken generates a new token pair. The claims gain iat and
// exp stamps when the caller did not set them.
func (s *Service) GenerateToken(scheme string, claims jwt.MapClaims) (*TokenInfo, error) {
	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)

	if _, ok := claims["iat"]; !ok {
		claims["iat"] = now.Unix()
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = expiresAt.Unix()
	}

	// A unique id keeps tokens minted within the same second from
	// colliding, since iat only has second resolution.
	if _, ok := claims["jti"]; !ok {
		claims["jti"] = uuid.NewString()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(s.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	refreshToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": claims["sub"],
		"jti": uuid.NewString(),
		"exp": now.Add(24 * time.Hour).Unix(),
	})
	refreshTokenStr, err := refreshToken.SignedString(s.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	tokenInfo := &TokenInfo{
		Token:        tokenStr,
		ExpiresAt:    expiresAt,
		RefreshToken: refreshTokenStr,
		Scheme:       scheme,
	}

	s.mu.Lock()
	s.tokens[tokenStr] = tokenInfo
	s.refreshTokens[refreshTokenStr] = tokenStr
	s.mu.Unlock()

	return tokenInfo, nil
}

// RefreshToken exchanges a refresh token for a new token pair and
// revokes the old access token.
func (s *Service) RefreshToken(refreshToken string) (*TokenInfo, error) {
	s.mu.RLock()
	oldToken, exists := s.refreshTokens[refreshToken]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("invalid refresh token")
	}

	if _, err := jwt.Parse(refreshToken, s.getSigningKey); err != nil {
		return nil, fmt.Errorf("refresh token no longer valid: %w", err)
	}

	// The old access token may have expired already, which is the
	// normal reason to refresh. Skip claim validation and carry its
	// claims over to the new pair.
	token, err := jwt.Parse(oldToken, s.getSigningKey, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("failed to parse old token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	delete(claims, "iat")
	delete(claims, "exp")
	delete(claims, "jti")

	s.mu.Lock()
	delete(s.tokens, oldToken)
	delete(s.refreshTokens, refreshToken)
	s.revoked[oldToken] = struct{}{}
	s.mu.Unlock()

	return s.GenerateToken("Bearer", claims)
}

// RevokeToken revokes a token and its associated refresh token.
func (s *Service) RevokeToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokenInfo, exists := s.tokens[token]
	if !exists {
		return fmt.Errorf("token not found")
	}

	delete(s.tokens, token)
	delete(s.refreshTokens, tokenInfo.RefreshToken)
	s.revoked[token] = struct{}{}
	return nil
}

// GetTokenInfo retrieves token information.
func (s *Service) GetTokenInfo(token string) (*TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokenInfo, exists := s.tokens[token]
	if !exists {
		return nil, fmt.Errorf("token not found")
	}

	return tokenInfo, nil
}
