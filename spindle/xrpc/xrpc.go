package xrpc

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tangled.sh/tangled.sh/runner/spindle/secrets"
)

const (
	AddSecretNSID    = "sh.tangled.spindle.addSecret"
	RemoveSecretNSID = "sh.tangled.spindle.removeSecret"
	ListSecretsNSID  = "sh.tangled.spindle.listSecrets"
)

// Xrpc serves the secret management calls. Every call needs the admin
// token; without one configured they are all refused.
type Xrpc struct {
	Logger  *slog.Logger
	Secrets secrets.Manager
	Token   string
}

func (x *Xrpc) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(x.VerifyToken)
	r.Post("/"+AddSecretNSID, x.AddSecret)
	r.Post("/"+RemoveSecretNSID, x.RemoveSecret)
	r.Get("/"+ListSecretsNSID, x.ListSecrets)

	return r
}
