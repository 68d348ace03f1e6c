package xrpc

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type ctxKey struct{}

const (
	// names who made a change, defaults to "admin"
	ActorHeader  = "X-Spindle-Actor"
	defaultActor = "admin"
)

func (x *Xrpc) VerifyToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := x.Logger.With("url", r.URL)

		if x.Token == "" {
			writeError(w, DisabledError, http.StatusForbidden)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, MissingTokenError, http.StatusUnauthorized)
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(x.Token)) != 1 {
			l.Error("token verification failed")
			writeError(w, AuthError, http.StatusForbidden)
			return
		}

		actor := r.Header.Get(ActorHeader)
		if actor == "" {
			actor = defaultActor
		}

		r = r.WithContext(
			context.WithValue(r.Context(), ctxKey{}, actor),
		)

		next.ServeHTTP(w, r)
	})
}

func actorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(ctxKey{}).(string); ok {
		return actor
	}
	return defaultActor
}
