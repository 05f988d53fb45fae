package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/k0kubun/semlayer/cube"
)

type contextKey string

const securityContextKey contextKey = "semlayer.securityContext"
const traceIDKey contextKey = "semlayer.traceID"

// claims is the {organisationId, userId, roles} shape every bearer
// token is expected to carry, per the core's cube.SecurityContext.
type claims struct {
	OrganisationID string   `json:"organisationId"`
	UserID         string   `json:"userId"`
	Roles          []string `json:"roles"`
	jwt.RegisteredClaims
}

// authMiddleware decodes a bearer JWT into a cube.SecurityContext and
// stores it on the request context, grounded on the pack's
// bsagute-educational-reporting-framework auth middleware (bearer
// extraction + jwt.Parse), simplified to net/http since this repo's
// teacher never wires in a web framework. The core itself is
// transport-agnostic and never parses tokens — this is illustrative
// plumbing handing the core its SecurityContext, per spec.md §6.
func authMiddleware(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "Unauthenticated", "missing Authorization header", nil)
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "Unauthenticated", "expected a Bearer token", nil)
			return
		}

		var c claims
		_, err := jwt.ParseWithClaims(parts[1], &c, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthenticated", "invalid token", nil)
			return
		}
		if c.OrganisationID == "" {
			writeError(w, http.StatusForbidden, "Forbidden", "token has no organisationId claim to scope the query by", nil)
			return
		}

		sec := cube.SecurityContext{
			OrganisationID: c.OrganisationID,
			UserID:         c.UserID,
			Roles:          c.Roles,
		}
		ctx := context.WithValue(r.Context(), securityContextKey, sec)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// securityContextFrom recovers the SecurityContext a prior
// authMiddleware call stored on the request context.
func securityContextFrom(ctx context.Context) cube.SecurityContext {
	sec, _ := ctx.Value(securityContextKey).(cube.SecurityContext)
	return sec
}

// traceMiddleware stamps every request with a uuid trace ID, logged
// around the request's lifecycle via the global zerolog logger
// (util.InitLogger already configured its level/writer at startup).
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := uuid.NewString()
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		log.Info().Str("traceId", traceID).Str("method", r.Method).Str("path", r.URL.Path).Msg("request received")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
