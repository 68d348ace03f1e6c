package secrets

import (
	"context"
	"sync"
	"time"
)

// StaticManager keeps secrets in memory. The CLI fills it from --secret
// flags for one-off runs.
type StaticManager struct {
	mu      sync.RWMutex
	secrets map[Scope]map[string]UnlockedSecret
}

func NewStaticManager() *StaticManager {
	return &StaticManager{secrets: make(map[Scope]map[string]UnlockedSecret)}
}

func (m *StaticManager) AddSecret(_ context.Context, secret UnlockedSecret) error {
	if err := ValidateKey(secret.Key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.secrets == nil {
		m.secrets = make(map[Scope]map[string]UnlockedSecret)
	}
	scoped, ok := m.secrets[secret.Scope]
	if !ok {
		scoped = make(map[string]UnlockedSecret)
		m.secrets[secret.Scope] = scoped
	}
	if _, exists := scoped[secret.Key]; exists {
		return ErrKeyAlreadyPresent
	}
	if secret.CreatedAt.IsZero() {
		secret.CreatedAt = time.Now()
	}
	scoped[secret.Key] = secret
	return nil
}

func (m *StaticManager) RemoveSecret(_ context.Context, secret Secret[any]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scoped := m.secrets[secret.Scope]
	if _, ok := scoped[secret.Key]; !ok {
		return ErrKeyNotFound
	}
	delete(scoped, secret.Key)
	return nil
}

func (m *StaticManager) GetSecretsLocked(ctx context.Context, scope Scope) ([]LockedSecret, error) {
	unlocked, err := m.GetSecretsUnlocked(ctx, scope)
	if err != nil {
		return nil, err
	}

	locked := make([]LockedSecret, 0, len(unlocked))
	for _, s := range unlocked {
		locked = append(locked, LockedSecret{
			Key:       s.Key,
			Scope:     s.Scope,
			CreatedAt: s.CreatedAt,
			CreatedBy: s.CreatedBy,
		})
	}
	return locked, nil
}

func (m *StaticManager) GetSecretsUnlocked(_ context.Context, scope Scope) ([]UnlockedSecret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]UnlockedSecret, 0, len(m.secrets[scope]))
	for _, s := range m.secrets[scope] {
		out = append(out, s)
	}
	return out, nil
}
