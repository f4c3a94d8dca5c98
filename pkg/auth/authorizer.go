package auth

// Pluggable request authorization for the RPC endpoint. The goal is to
// let deployments protect a server with a static API key, a static
// bearer token or HS256 JWTs without introducing heavy dependencies.
// Real-world deployments can swap in their own Authorizer that speaks
// OAuth, mTLS and friends.

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/spf13/viper"
)

// Header is the read-only view of the request headers a validator
// inspects. net/http header maps satisfy it directly.
type Header interface {
	Get(key string) string
}

// Authorizer validates an incoming request. Returning false means the
// request is rejected before it reaches the dispatcher. Implementations
// should perform any needed logging themselves because the middleware
// only has boolean semantics.
type Authorizer interface {
	Authorize(headers Header) bool
}

// APIKeyAuth checks for header "X-API-Key: <key>".
type APIKeyAuth struct{ Key string }

func (a APIKeyAuth) Authorize(headers Header) bool {
	return a.Key != "" && headers.Get("X-API-Key") == a.Key
}

// BearerAuth checks for a static "Authorization: Bearer <token>" header.
type BearerAuth struct{ Token string }

func (b BearerAuth) Authorize(headers Header) bool {
	token, ok := bearerToken(headers)
	return ok && b.Token != "" && token == b.Token
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(headers Header) (string, bool) {
	h := headers.Get(fiber.HeaderAuthorization)

	if !strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return "", false
	}

	return strings.TrimSpace(h[7:]), true
}

// FromConfig builds the authorizer selected by the auth.scheme config
// key: "api_key", "bearer" or "jwt". Any other value, including an
// empty one, disables authorization and returns nil. The service is
// only consulted for the jwt scheme and may be nil otherwise.
func FromConfig(service *Service) Authorizer {
	switch strings.ToLower(viper.GetString("auth.scheme")) {
	case "api_key":
		return APIKeyAuth{Key: viper.GetString("auth.api_key")}
	case "bearer":
		return BearerAuth{Token: viper.GetString("auth.token")}
	case "jwt":
		if service == nil {
			service = NewService()
		}
		return service
	default:
		return nil
	}
}

// Middleware guards the routes registered after it with the supplied
// authorizer and rate limiter. Either may be nil to disable that
// check. Limiting runs first so unauthenticated floods cannot bypass
// it.
func Middleware(authorizer Authorizer, limiter *RateLimiter) fiber.Handler {
	return func(ctx fiber.Ctx) error {
		if limiter != nil && !limiter.Allow() {
			return ctx.SendStatus(fiber.StatusTooManyRequests)
		}

		if authorizer != nil && !authorizer.Authorize(ctxHeader{ctx}) {
			return ctx.SendStatus(fiber.StatusUnauthorized)
		}

		return ctx.Next()
	}
}

// ctxHeader adapts a fiber context to the Header view.
type ctxHeader struct{ ctx fiber.Ctx }

func (h ctxHeader) Get(key string) string { return h.ctx.Get(key) }
