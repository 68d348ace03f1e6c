package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// VaultManager stores secrets in a KV v2 mount, one entry per scope/key,
// and logs in with AppRole.
type VaultManager struct {
	client    *vault.Client
	mountPath string
	roleID    string
	secretID  string
	stopCh    chan struct{}
	stopOnce  sync.Once
	tokenMu   sync.RWMutex
	logger    *slog.Logger
}

type VaultManagerOpt func(*VaultManager)

func WithMountPath(mountPath string) VaultManagerOpt {
	return func(v *VaultManager) {
		v.mountPath = mountPath
	}
}

func NewVaultManager(address, roleID, secretID string, logger *slog.Logger, opts ...VaultManagerOpt) (*VaultManager, error) {
	if address == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}
	if roleID == "" {
		return nil, fmt.Errorf("role_id cannot be empty")
	}
	if secretID == "" {
		return nil, fmt.Errorf("secret_id cannot be empty")
	}

	config := vault.DefaultConfig()
	config.Address = address

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	if err := authenticateAppRole(context.Background(), client, roleID, secretID); err != nil {
		return nil, fmt.Errorf("failed to authenticate with AppRole: %w", err)
	}

	manager := &VaultManager{
		client:    client,
		mountPath: "spindle",
		roleID:    roleID,
		secretID:  secretID,
		stopCh:    make(chan struct{}),
		logger:    logger,
	}

	for _, opt := range opts {
		opt(manager)
	}

	go manager.tokenRenewalLoop()

	return manager, nil
}

func authenticateAppRole(ctx context.Context, client *vault.Client, roleID, secretID string) error {
	resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]any{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		return fmt.Errorf("failed to login with AppRole: %w", err)
	}

	if resp == nil || resp.Auth == nil {
		return fmt.Errorf("no auth info returned from AppRole login")
	}

	client.SetToken(resp.Auth.ClientToken)
	return nil
}

func (v *VaultManager) Stop() {
	v.stopOnce.Do(func() { close(v.stopCh) })
}

func (v *VaultManager) tokenRenewalLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-v.stopCh:
			return
		case <-ticker.C:
			if err := v.ensureValidToken(context.Background()); err != nil {
				v.logger.Error("vault token renewal failed", "error", err)
			}
		}
	}
}

// ensureValidToken renews the token when it is about to expire and logs in
// again when it is gone.
func (v *VaultManager) ensureValidToken(ctx context.Context) error {
	v.tokenMu.Lock()
	defer v.tokenMu.Unlock()

	info, err := v.client.Auth().Token().LookupSelfWithContext(ctx)
	if err != nil {
		v.logger.Warn("token lookup failed, re-authenticating", "error", err)
		return v.reAuthenticate(ctx)
	}
	if info == nil {
		return v.reAuthenticate(ctx)
	}

	ttl, err := info.TokenTTL()
	if err != nil {
		return v.reAuthenticate(ctx)
	}

	if ttl < 5*time.Minute {
		v.logger.Info("token ttl low, attempting renewal", "ttl", ttl)

		renewed, err := v.client.Auth().Token().RenewSelfWithContext(ctx, int(time.Hour.Seconds()))
		if err != nil || renewed == nil || renewed.Auth == nil {
			v.logger.Warn("token renewal failed, re-authenticating", "error", err)
			return v.reAuthenticate(ctx)
		}

		v.logger.Info("token renewed", "lease_seconds", renewed.Auth.LeaseDuration)
	}

	return nil
}

func (v *VaultManager) reAuthenticate(ctx context.Context) error {
	if err := authenticateAppRole(ctx, v.client, v.roleID, v.secretID); err != nil {
		return fmt.Errorf("re-authentication failed: %w", err)
	}
	v.logger.Info("re-authenticated with approle")
	return nil
}

func (v *VaultManager) AddSecret(ctx context.Context, secret UnlockedSecret) error {
	v.tokenMu.RLock()
	defer v.tokenMu.RUnlock()

	if err := ValidateKey(secret.Key); err != nil {
		return err
	}

	kv := v.client.KVv2(v.mountPath)
	secretPath := buildSecretPath(secret.Scope, secret.Key)

	existing, err := kv.Get(ctx, secretPath)
	if err == nil && existing != nil {
		return ErrKeyAlreadyPresent
	}

	createdAt := secret.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = kv.Put(ctx, secretPath, map[string]any{
		"value":      secret.Value,
		"scope":      string(secret.Scope),
		"key":        secret.Key,
		"created_at": createdAt.UTC().Format(time.RFC3339),
		"created_by": secret.CreatedBy,
	})
	if err != nil {
		return fmt.Errorf("failed to store secret in vault: %w", err)
	}

	return nil
}

func (v *VaultManager) RemoveSecret(ctx context.Context, secret Secret[any]) error {
	v.tokenMu.RLock()
	defer v.tokenMu.RUnlock()

	kv := v.client.KVv2(v.mountPath)
	secretPath := buildSecretPath(secret.Scope, secret.Key)

	existing, err := kv.Get(ctx, secretPath)
	if err != nil || existing == nil {
		return ErrKeyNotFound
	}

	if err := kv.DeleteMetadata(ctx, secretPath); err != nil {
		return fmt.Errorf("failed to delete secret from vault: %w", err)
	}

	return nil
}

func (v *VaultManager) GetSecretsLocked(ctx context.Context, scope Scope) ([]LockedSecret, error) {
	unlocked, err := v.GetSecretsUnlocked(ctx, scope)
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

func (v *VaultManager) GetSecretsUnlocked(ctx context.Context, scope Scope) ([]UnlockedSecret, error) {
	v.tokenMu.RLock()
	defer v.tokenMu.RUnlock()

	scopePath := buildScopePath(scope)
	listing, err := v.client.Logical().ListWithContext(ctx, fmt.Sprintf("%s/metadata/%s", v.mountPath, scopePath))
	if err != nil {
		var respErr *vault.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return []UnlockedSecret{}, nil
		}
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	if listing == nil || listing.Data == nil {
		return []UnlockedSecret{}, nil
	}

	keys, _ := listing.Data["keys"].([]any)

	kv := v.client.KVv2(v.mountPath)
	secrets := make([]UnlockedSecret, 0, len(keys))
	for _, k := range keys {
		key, ok := k.(string)
		if !ok || strings.HasSuffix(key, "/") {
			continue
		}

		entry, err := kv.Get(ctx, path.Join(scopePath, key))
		if err != nil || entry == nil || entry.Data == nil {
			v.logger.Warn("skipping unreadable secret", "scope", scope, "key", key, "error", err)
			continue
		}

		secrets = append(secrets, decodeSecret(scope, key, entry.Data))
	}

	return secrets, nil
}

func decodeSecret(scope Scope, key string, data map[string]any) UnlockedSecret {
	s := UnlockedSecret{Key: key, Scope: scope}

	if k, ok := data["key"].(string); ok && k != "" {
		s.Key = k
	}
	s.Value, _ = data["value"].(string)
	s.CreatedBy, _ = data["created_by"].(string)
	if createdAt, ok := data["created_at"].(string); ok {
		s.CreatedAt = parseCreatedAt(createdAt)
	}

	return s
}

// vault paths cannot carry every character a scope name may contain
func buildScopePath(scope Scope) string {
	return strings.NewReplacer("/", "_", ":", "_", ".", "_").Replace(string(scope))
}

func buildSecretPath(scope Scope, key string) string {
	return path.Join(buildScopePath(scope), key)
}
