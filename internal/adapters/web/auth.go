package web

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"gelato-costing/internal/core"
)

type actorKey struct{}

// actorFromContext returns the actor stored in ctx. Requests that skipped the
// Identify middleware act as the anonymous user.
func actorFromContext(ctx context.Context) core.Actor {
	if a, ok := ctx.Value(actorKey{}).(core.Actor); ok {
		return a
	}
	return core.Actor{RequestID: requestIDFromContext(ctx)}
}

// Identify reads the operator id from X-User-ID and stores a core.Actor in the
// request context. Authentication happens upstream; an absent header means an
// anonymous operator, a malformed one is rejected with 400.
func Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := core.Actor{RequestID: requestIDFromContext(r.Context())}
		if raw := strings.TrimSpace(r.Header.Get("X-User-ID")); raw != "" {
			id, err := strconv.Atoi(raw)
			if err != nil || id <= 0 {
				writeError(w, r, "X-User-ID must be a positive integer", "BAD_REQUEST", http.StatusBadRequest)
				return
			}
			actor.UserID = id
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
