package secrets

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// Scope groups secrets; a run reads the secrets of its workflow's scope.
type Scope string

type Secret[T any] struct {
	Key       string
	Value     T
	Scope     Scope
	CreatedAt time.Time
	CreatedBy string
}

type (
	// LockedSecret carries everything but the value; safe to list.
	LockedSecret = Secret[struct{}]

	// UnlockedSecret carries the plaintext value. It is only ever handed to
	// the step executor, never returned over the API.
	UnlockedSecret = Secret[string]
)

// Manager stores secrets per scope. Implementations return
// ErrKeyAlreadyPresent, ErrKeyNotFound and ErrInvalidKeyIdent for the
// matching conditions.
type Manager interface {
	AddSecret(ctx context.Context, secret UnlockedSecret) error
	RemoveSecret(ctx context.Context, secret Secret[any]) error
	GetSecretsLocked(ctx context.Context, scope Scope) ([]LockedSecret, error)
	GetSecretsUnlocked(ctx context.Context, scope Scope) ([]UnlockedSecret, error)
}

// Stopper is implemented by managers with background work to shut down.
type Stopper interface {
	Stop()
}

var (
	ErrKeyAlreadyPresent = errors.New("key already present")
	ErrInvalidKeyIdent   = errors.New("key is not a valid identifier")
	ErrKeyNotFound       = errors.New("key not found")
)

var (
	_ Manager = (*SqliteManager)(nil)
	_ Manager = (*VaultManager)(nil)
	_ Manager = (*StaticManager)(nil)
	_ Stopper = (*VaultManager)(nil)
)

// keys must be usable as shell variable names
var keyIdent = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func ValidateKey(key string) error {
	if !keyIdent.MatchString(key) {
		return ErrInvalidKeyIdent
	}
	return nil
}

// Resolve reads every secret of a scope into the key/value form a run
// context is populated with.
func Resolve(ctx context.Context, m Manager, scope Scope) (map[string]string, error) {
	if m == nil {
		return map[string]string{}, nil
	}

	unlocked, err := m.GetSecretsUnlocked(ctx, scope)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(unlocked))
	for _, s := range unlocked {
		out[s.Key] = s.Value
	}
	return out, nil
}

func parseCreatedAt(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
