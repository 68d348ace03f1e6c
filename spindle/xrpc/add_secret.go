package xrpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"tangled.sh/tangled.sh/runner/spindle/secrets"
)

type AddSecret_Input struct {
	Scope string `json:"scope"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (x *Xrpc) AddSecret(w http.ResponseWriter, r *http.Request) {
	l := x.Logger
	fail := func(e XrpcError, status int) {
		l.Error("failed", "kind", e.Tag, "error", e.Message)
		writeError(w, e, status)
	}

	var data AddSecret_Input
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		fail(GenericError(err), http.StatusBadRequest)
		return
	}

	if data.Scope == "" {
		fail(MissingScopeError, http.StatusBadRequest)
		return
	}
	if err := secrets.ValidateKey(data.Key); err != nil {
		fail(InvalidKeyError(data.Key), http.StatusBadRequest)
		return
	}

	actor := actorFrom(r.Context())
	secret := secrets.UnlockedSecret{
		Scope:     secrets.Scope(data.Scope),
		Key:       data.Key,
		Value:     data.Value,
		CreatedAt: time.Now(),
		CreatedBy: actor,
	}

	err := x.Secrets.AddSecret(r.Context(), secret)
	switch {
	case errors.Is(err, secrets.ErrKeyAlreadyPresent):
		fail(SecretExistsError(data.Key), http.StatusConflict)
		return
	case err != nil:
		l.Error("failed to add secret", "actor", actor, "err", err)
		writeError(w, GenericError(err), http.StatusInternalServerError)
		return
	}

	l.Info("secret added", "actor", actor, "scope", data.Scope, "key", data.Key)
	w.WriteHeader(http.StatusOK)
}
