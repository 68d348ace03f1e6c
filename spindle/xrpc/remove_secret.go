package xrpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"tangled.sh/tangled.sh/runner/spindle/secrets"
)

type RemoveSecret_Input struct {
	Scope string `json:"scope"`
	Key   string `json:"key"`
}

func (x *Xrpc) RemoveSecret(w http.ResponseWriter, r *http.Request) {
	l := x.Logger
	fail := func(e XrpcError, status int) {
		l.Error("failed", "kind", e.Tag, "error", e.Message)
		writeError(w, e, status)
	}

	var data RemoveSecret_Input
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		fail(GenericError(err), http.StatusBadRequest)
		return
	}

	if data.Scope == "" {
		fail(MissingScopeError, http.StatusBadRequest)
		return
	}

	secret := secrets.Secret[any]{
		Scope: secrets.Scope(data.Scope),
		Key:   data.Key,
	}
	err := x.Secrets.RemoveSecret(r.Context(), secret)
	switch {
	case errors.Is(err, secrets.ErrKeyNotFound):
		fail(SecretNotFoundError(data.Key), http.StatusNotFound)
		return
	case err != nil:
		l.Error("failed to remove secret", "actor", actorFrom(r.Context()), "err", err)
		writeError(w, GenericError(err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
