// Package credentials resolves API keys and tokens the Backend Invoker's
// SDK/CLI calls need to authenticate, without the core hardcoding a
// specific secret source.
package credentials

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kdlabs/queuecore/internal/common/logger"
)

// Credential is a single resolved secret.
type Credential struct {
	Key    string
	Value  string
	Source string
}

// Provider is a source of credentials (environment, vault, file, ...).
type Provider interface {
	GetCredential(ctx context.Context, key string) (*Credential, error)
	ListAvailable(ctx context.Context) ([]string, error)
	Name() string
}

// Manager resolves credentials across an ordered list of providers,
// caching hits.
type Manager struct {
	providers []Provider
	cache     map[string]*Credential
	mu        sync.RWMutex
	logger    *logger.Logger
}

// NewManager constructs an empty Manager. Call AddProvider to register
// sources, tried in the order added.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		cache:  make(map[string]*Credential),
		logger: log.WithFields(zap.String("component", "credentials-manager")),
	}
}

// AddProvider registers a credential source.
func (m *Manager) AddProvider(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, provider)
	m.logger.Info("added credential provider", zap.String("provider", provider.Name()))
}

// GetCredential resolves key from the cache, then each provider in order.
func (m *Manager) GetCredential(ctx context.Context, key string) (*Credential, error) {
	m.mu.RLock()
	if cred, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return cred, nil
	}
	providers := m.providers
	m.mu.RUnlock()

	for _, provider := range providers {
		cred, err := provider.GetCredential(ctx, key)
		if err == nil {
			m.mu.Lock()
			m.cache[key] = cred
			m.mu.Unlock()
			return cred, nil
		}
	}

	return nil, fmt.Errorf("credential not found: %s", key)
}

// GetCredentialValue is a convenience wrapper returning only the value.
func (m *Manager) GetCredentialValue(ctx context.Context, key string) (string, error) {
	cred, err := m.GetCredential(ctx, key)
	if err != nil {
		return "", err
	}
	return cred.Value, nil
}

// HasCredential reports whether key resolves to a credential.
func (m *Manager) HasCredential(ctx context.Context, key string) bool {
	_, err := m.GetCredential(ctx, key)
	return err == nil
}

// BuildEnvVars resolves every key in required into "KEY=value" entries,
// appended after additional, failing if any required credential is
// missing. Used to extend the environment of a spawned CLI subprocess.
func (m *Manager) BuildEnvVars(ctx context.Context, required []string, additional map[string]string) ([]string, error) {
	envVars := make([]string, 0, len(required)+len(additional))

	for _, key := range required {
		cred, err := m.GetCredential(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("required credential missing: %s", key)
		}
		envVars = append(envVars, fmt.Sprintf("%s=%s", cred.Key, cred.Value))
	}
	for key, value := range additional {
		envVars = append(envVars, fmt.Sprintf("%s=%s", key, value))
	}

	return envVars, nil
}

// ListAvailable returns the union of credential keys known to every
// registered provider.
func (m *Manager) ListAvailable(ctx context.Context) []string {
	m.mu.RLock()
	providers := m.providers
	m.mu.RUnlock()

	keySet := make(map[string]struct{})
	for _, provider := range providers {
		keys, err := provider.ListAvailable(ctx)
		if err != nil {
			m.logger.Warn("failed to list credentials from provider",
				zap.String("provider", provider.Name()), zap.Error(err))
			continue
		}
		for _, key := range keys {
			keySet[key] = struct{}{}
		}
	}

	result := make([]string, 0, len(keySet))
	for key := range keySet {
		result = append(result, key)
	}
	return result
}

// ClearCache empties the credential cache, forcing the next GetCredential
// call to re-query providers.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]*Credential)
}
