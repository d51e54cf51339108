package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// knownAPIKeyPatterns are environment variable names the SDK/CLI backends
// commonly expect for authentication.
var knownAPIKeyPatterns = []string{
	"GITHUB_TOKEN",
	"GITHUB_COPILOT_TOKEN",
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"AZURE_OPENAI_API_KEY",
}

// EnvProvider resolves credentials from environment variables, optionally
// under a name prefix (e.g. "QUEUECORE_").
type EnvProvider struct {
	prefix string
}

// NewEnvProvider constructs an EnvProvider.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

// Name returns the provider name.
func (p *EnvProvider) Name() string {
	return "environment"
}

// GetCredential checks the exact key, then the prefixed key.
func (p *EnvProvider) GetCredential(ctx context.Context, key string) (*Credential, error) {
	if value := os.Getenv(key); value != "" {
		return &Credential{Key: key, Value: value, Source: "environment"}, nil
	}
	if p.prefix != "" {
		if value := os.Getenv(p.prefix + key); value != "" {
			return &Credential{Key: key, Value: value, Source: "environment"}, nil
		}
	}
	return nil, fmt.Errorf("credential not found: %s", key)
}

// ListAvailable reports which known patterns resolve, plus any environment
// variable whose name looks like an API key or token.
func (p *EnvProvider) ListAvailable(ctx context.Context) ([]string, error) {
	available := make([]string, 0)
	seen := make(map[string]struct{})

	add := func(key string) {
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		available = append(available, key)
	}

	for _, pattern := range knownAPIKeyPatterns {
		if os.Getenv(pattern) != "" {
			add(pattern)
			continue
		}
		if p.prefix != "" && os.Getenv(p.prefix+pattern) != "" {
			add(pattern)
		}
	}

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		key := parts[0]
		lowerKey := strings.ToLower(key)
		if strings.Contains(lowerKey, "api_key") ||
			strings.Contains(lowerKey, "apikey") ||
			strings.Contains(lowerKey, "_token") ||
			strings.Contains(lowerKey, "_secret") {
			if p.prefix != "" && strings.HasPrefix(key, p.prefix) {
				key = strings.TrimPrefix(key, p.prefix)
			}
			add(key)
		}
	}

	return available, nil
}
