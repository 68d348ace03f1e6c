package xrpc

import (
	"encoding/json"
	"net/http"
	"time"

	"tangled.sh/tangled.sh/runner/spindle/secrets"
)

type ListSecrets_Secret struct {
	Scope     string `json:"scope"`
	Key       string `json:"key"`
	CreatedAt string `json:"createdAt"`
	CreatedBy string `json:"createdBy"`
}

type ListSecrets_Output struct {
	Secrets []*ListSecrets_Secret `json:"secrets"`
}

// ListSecrets never returns secret values.
func (x *Xrpc) ListSecrets(w http.ResponseWriter, r *http.Request) {
	l := x.Logger

	scope := r.URL.Query().Get("scope")
	if scope == "" {
		writeError(w, MissingScopeError, http.StatusBadRequest)
		return
	}

	ls, err := x.Secrets.GetSecretsLocked(r.Context(), secrets.Scope(scope))
	if err != nil {
		l.Error("failed to list secrets", "scope", scope, "err", err)
		writeError(w, GenericError(err), http.StatusInternalServerError)
		return
	}

	out := ListSecrets_Output{Secrets: []*ListSecrets_Secret{}}
	for _, s := range ls {
		out.Secrets = append(out.Secrets, &ListSecrets_Secret{
			Scope:     string(s.Scope),
			Key:       s.Key,
			CreatedAt: s.CreatedAt.Format(time.RFC3339),
			CreatedBy: s.CreatedBy,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}
