package credentials

import (
	"context"
	"testing"

	"github.com/kdlabs/queuecore/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

func TestNewManagerStartsWithNoProviders(t *testing.T) {
	mgr := NewManager(newTestLogger())
	if len(mgr.providers) != 0 {
		t.Fatalf("expected no providers, got %d", len(mgr.providers))
	}
}

func TestGetCredentialFromEnv(t *testing.T) {
	testKey := "TEST_CREDENTIAL_KEY_12345"
	t.Setenv(testKey, "test-secret-value")

	mgr := NewManager(newTestLogger())
	mgr.AddProvider(NewEnvProvider(""))

	cred, err := mgr.GetCredential(context.Background(), testKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Value != "test-secret-value" || cred.Source != "environment" {
		t.Fatalf("unexpected credential: %+v", cred)
	}
}

func TestGetCredentialMissingReturnsError(t *testing.T) {
	mgr := NewManager(newTestLogger())
	mgr.AddProvider(NewEnvProvider(""))

	if _, err := mgr.GetCredential(context.Background(), "DEFINITELY_NOT_SET_KEY"); err == nil {
		t.Fatalf("expected error for missing credential")
	}
}

func TestGetCredentialIsCached(t *testing.T) {
	testKey := "TEST_CREDENTIAL_CACHE_KEY"
	t.Setenv(testKey, "v1")

	mgr := NewManager(newTestLogger())
	mgr.AddProvider(NewEnvProvider(""))

	if _, err := mgr.GetCredential(context.Background(), testKey); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Changing the environment after the first resolution must not affect
	// the cached value.
	t.Setenv(testKey, "v2")
	cred, err := mgr.GetCredential(context.Background(), testKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Value != "v1" {
		t.Fatalf("expected cached value v1, got %s", cred.Value)
	}
}

func TestBuildEnvVarsFailsOnMissingRequired(t *testing.T) {
	mgr := NewManager(newTestLogger())
	mgr.AddProvider(NewEnvProvider(""))

	if _, err := mgr.BuildEnvVars(context.Background(), []string{"DEFINITELY_NOT_SET_KEY"}, nil); err == nil {
		t.Fatalf("expected error for missing required credential")
	}
}

func TestBuildEnvVarsIncludesAdditional(t *testing.T) {
	mgr := NewManager(newTestLogger())
	mgr.AddProvider(NewEnvProvider(""))

	vars, err := mgr.BuildEnvVars(context.Background(), nil, map[string]string{"FOO": "bar"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vars) != 1 || vars[0] != "FOO=bar" {
		t.Fatalf("expected [FOO=bar], got %v", vars)
	}
}

func TestClearCacheForcesReResolution(t *testing.T) {
	testKey := "TEST_CREDENTIAL_CLEAR_KEY"
	t.Setenv(testKey, "v1")

	mgr := NewManager(newTestLogger())
	mgr.AddProvider(NewEnvProvider(""))

	mgr.GetCredential(context.Background(), testKey)
	t.Setenv(testKey, "v2")
	mgr.ClearCache()

	cred, err := mgr.GetCredential(context.Background(), testKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Value != "v2" {
		t.Fatalf("expected re-resolved value v2, got %s", cred.Value)
	}
}
