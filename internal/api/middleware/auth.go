package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"

	"github.com/procuredata/console/pkg/utils"
)

const (
	HeaderUserID         = "X-User-ID"
	HeaderOrganizationID = "X-Organization-ID"

	verifyTimeout = 5 * time.Second
)

// Identity is the authenticated caller of an API request.
type Identity struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email,omitempty"`
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller stored by Authenticate.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// TokenVerifier checks a bearer token and returns the subject it was issued to.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (Identity, error)
}

// OIDCVerifier verifies Keyrock-issued ID tokens.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

type userClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
}

func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, utils.WrapError(err, "oidc provider %s", issuer)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, utils.NewAppError(utils.CodeUnauthorized, "invalid token", err)
	}
	var claims userClaims
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, utils.NewAppError(utils.CodeUnauthorized, "cannot parse claims", err)
	}
	return Identity{UserID: claims.Sub, Email: claims.Email}, nil
}

// Authenticate resolves the caller of every request. With a verifier the user
// comes from the bearer token; without one X-User-ID is trusted. The
// organization always comes from X-Organization-ID.
func Authenticate(verifier TokenVerifier, logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			org := strings.TrimSpace(r.Header.Get(HeaderOrganizationID))

			var id Identity
			if verifier != nil {
				auth := r.Header.Get("Authorization")
				if !strings.HasPrefix(auth, "Bearer ") {
					logger.Warn().Str("path", r.URL.Path).Msg("Request is missing bearer token")
					SendUnauthorized(w, r, "missing bearer token")
					return
				}
				ctx, cancel := context.WithTimeout(r.Context(), verifyTimeout)
				verified, err := verifier.Verify(ctx, strings.TrimPrefix(auth, "Bearer "))
				cancel()
				if err != nil {
					logger.Warn().Err(err).Msg("Token is invalid")
					SendUnauthorized(w, r, "invalid token")
					return
				}
				id = verified
			} else {
				id.UserID = strings.TrimSpace(r.Header.Get(HeaderUserID))
			}

			if id.UserID == "" || org == "" {
				SendUnauthorized(w, r, "caller identity is required")
				return
			}
			id.OrganizationID = org

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
