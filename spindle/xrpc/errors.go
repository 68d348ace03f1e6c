package xrpc

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// XrpcError is the body of every failed management call: an "error" tag
// and a human readable "message".
type XrpcError struct {
	Tag     string `json:"error"`
	Message string `json:"message"`
}

func (x XrpcError) Error() string {
	if x.Message != "" {
		return fmt.Sprintf("%s: %s", x.Tag, x.Message)
	}
	return x.Tag
}

func NewXrpcError(opts ...ErrOpt) XrpcError {
	x := XrpcError{}
	for _, o := range opts {
		o(&x)
	}

	return x
}

type ErrOpt = func(xerr *XrpcError)

func WithTag(tag string) ErrOpt {
	return func(xerr *XrpcError) {
		xerr.Tag = tag
	}
}

func WithMessage[S ~string](s S) ErrOpt {
	return func(xerr *XrpcError) {
		xerr.Message = string(s)
	}
}

func WithError(e error) ErrOpt {
	return func(xerr *XrpcError) {
		xerr.Message = e.Error()
	}
}

var MissingTokenError = NewXrpcError(
	WithTag("MissingToken"),
	WithMessage("bearer token not supplied"),
)

var DisabledError = NewXrpcError(
	WithTag("Disabled"),
	WithMessage("secret management is disabled on this server"),
)

var MissingScopeError = NewXrpcError(
	WithTag("MissingScope"),
	WithMessage("scope not supplied"),
)

var AuthError = NewXrpcError(
	WithTag("Auth"),
	WithMessage("invalid bearer token"),
)

var InvalidKeyError = func(key string) XrpcError {
	return NewXrpcError(
		WithTag("InvalidKey"),
		WithError(fmt.Errorf("not a valid secret key: %q", key)),
	)
}

var SecretExistsError = func(key string) XrpcError {
	return NewXrpcError(
		WithTag("SecretExists"),
		WithError(fmt.Errorf("secret already exists: %s", key)),
	)
}

var SecretNotFoundError = func(key string) XrpcError {
	return NewXrpcError(
		WithTag("SecretNotFound"),
		WithError(fmt.Errorf("secret not found: %s", key)),
	)
}

var GenericError = func(err error) XrpcError {
	return NewXrpcError(
		WithTag("Generic"),
		WithError(err),
	)
}

// the json object returned must include an "error" and a "message"
func writeError(w http.ResponseWriter, e XrpcError, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(e)
}
