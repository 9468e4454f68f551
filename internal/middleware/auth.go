package middleware

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"
	adapter "github.com/gwatts/gin-adapter"
)

// Auth0IDKey is where an authenticator that does not go through JWT
// validation (tests, internal tooling) stores the caller's subject.
const Auth0IDKey = "auth0_id"

const accessTokenParam = "access_token"

// JWT validates Auth0-issued RS256 tokens for audience. The token is read
// from the Authorization header or, for websocket upgrades where browsers
// cannot set headers, from the access_token query parameter.
func JWT(domain, audience string) (gin.HandlerFunc, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, err
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{audience},
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		return nil, err
	}

	mw := jwtmiddleware.New(
		jwtValidator.ValidateToken,
		jwtmiddleware.WithTokenExtractor(jwtmiddleware.MultiTokenExtractor(
			jwtmiddleware.AuthHeaderTokenExtractor,
			jwtmiddleware.ParameterTokenExtractor(accessTokenParam),
		)),
		jwtmiddleware.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","message":"Authentication required"}`))
		}),
	)

	return adapter.Wrap(mw.CheckJWT), nil
}

// GetAuth0ID extracts the user ID (sub claim) of the caller
func GetAuth0ID(c *gin.Context) (string, bool) {
	if id := c.GetString(Auth0IDKey); id != "" {
		return id, true
	}

	// The JWT middleware stores the validated token in the request context
	claims, exists := c.Request.Context().Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
	if !exists {
		GetLogger(c).Debug("no user claims found in context")
		return "", false
	}

	return claims.RegisteredClaims.Subject, true
}

// GetAccessToken returns the raw bearer token the caller authenticated with.
func GetAccessToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return c.Query(accessTokenParam)
}
