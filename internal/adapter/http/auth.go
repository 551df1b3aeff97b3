package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrMissingToken = errors.New("missing bearer token")
)

const anonymousActorID = "anonymous"

type actorKey struct{}

// WithActor stores the authenticated actor in ctx
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor set by the auth middleware
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}

// TokenVerifier turns HS256 bearer tokens into actors
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for tokens signed with secret
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// IssueToken signs a token for actor. Used by the CLI and tests.
func (v *TokenVerifier) IssueToken(actor domain.Actor, claims jwt.MapClaims) (string, error) {
	tokenClaims := jwt.MapClaims{
		"sub":  actor.ID,
		"role": string(actor.Role),
	}
	for k, val := range claims {
		tokenClaims[k] = val
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify validates tokenString and returns the actor it names
func (v *TokenVerifier) Verify(tokenString string) (domain.Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Actor{}, ErrTokenExpired
		}
		return domain.Actor{}, ErrInvalidToken
	}
	if !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Actor{}, ErrInvalidToken
	}
	id, _ := claims["sub"].(string)
	if id == "" {
		id, _ = claims["user_id"].(string)
	}
	if id == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	return domain.Actor{ID: id, Role: parseRole(role)}, nil
}

func parseRole(s string) domain.Role {
	switch domain.Role(s) {
	case domain.RoleAdmin, domain.RoleSuperAdmin:
		return domain.Role(s)
	default:
		return domain.RoleUser
	}
}

// authMiddleware resolves the actor for every request. Without a verifier,
// or with anonymous access allowed and no token, requests run as a plain user
// named by X-Actor-ID.
func authMiddleware(verifier *TokenVerifier, allowAnonymous bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" && (verifier == nil || allowAnonymous) {
				id := strings.TrimSpace(r.Header.Get("X-Actor-ID"))
				if id == "" {
					id = anonymousActorID
				}
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), domain.Actor{ID: id, Role: domain.RoleUser})))
				return
			}
			if verifier == nil {
				writeErrorResponse(w, http.StatusUnauthorized, "UNAUTHORIZED", "token verification is not configured")
				return
			}

			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				writeErrorResponse(w, http.StatusUnauthorized, "UNAUTHORIZED", ErrMissingToken.Error())
				return
			}
			actor, err := verifier.Verify(strings.TrimSpace(tokenString))
			if err != nil {
				writeErrorResponse(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
