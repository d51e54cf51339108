// Package backend implements the Backend Invoker: a single invoke(prompt,
// opts) call that unifies the copilot-sdk, copilot-cli, and clipboard
// backends behind one deterministic fallback chain.
package backend

import (
	"context"
	"time"

	"github.com/kdlabs/queuecore/internal/backend/copilotsdk"
	"github.com/kdlabs/queuecore/internal/backend/credentials"
	"github.com/kdlabs/queuecore/internal/backend/pool"
	"github.com/kdlabs/queuecore/internal/common/logger"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

// Config holds the Backend Invoker's static configuration.
type Config struct {
	DefaultBackend v1.BackendType
	SDK            copilotsdk.Config
}

// Invoker is the Backend Invoker described in the design.
type Invoker struct {
	cfg    Config
	pool   *pool.Pool
	creds  *credentials.Manager
	logger *logger.Logger
}

// New constructs an Invoker. pool may be nil if usePool invocations are
// never made (e.g. in a deployment with queue.maxConcurrency = 1). creds may
// be nil, in which case the CLI backend inherits the bare process
// environment without resolving any additional credentials.
func New(cfg Config, sessionPool *pool.Pool, creds *credentials.Manager, log *logger.Logger) *Invoker {
	if cfg.DefaultBackend == "" {
		cfg.DefaultBackend = v1.BackendCopilotSDK
	}
	return &Invoker{cfg: cfg, pool: sessionPool, creds: creds, logger: log}
}

// Invoke runs the deterministic fallback chain described in the design:
// clipboard short-circuits immediately; copilot-sdk falls back to
// copilot-cli on unavailability, error, or timeout; copilot-cli falls back
// to the clipboard only when explicitly enabled.
func (inv *Invoker) Invoke(ctx context.Context, prompt string, opts v1.InvokeOptions) (v1.InvokeResult, error) {
	backend := opts.Backend
	if backend == "" {
		backend = inv.cfg.DefaultBackend
	}

	if backend == v1.BackendClipboard {
		return clipboardFallback(prompt, "clipboard backend selected"), nil
	}

	if backend == v1.BackendCopilotSDK {
		result, ok := inv.invokeSDK(ctx, prompt, opts)
		if ok {
			return result, nil
		}
		inv.logger.Warn("sdk invocation unavailable, falling back to cli")
	}

	result := cliInvoke(ctx, prompt, opts, inv.creds)
	if !result.Success && opts.ClipboardFallback {
		return clipboardFallback(prompt, result.Error), nil
	}
	return result, nil
}

// invokeSDK attempts the SDK path. ok is false when the SDK is unavailable,
// errors, or times out, signalling the caller to fall through to CLI.
func (inv *Invoker) invokeSDK(ctx context.Context, prompt string, opts v1.InvokeOptions) (v1.InvokeResult, bool) {
	timeout := 10 * time.Minute
	if opts.TimeoutMs > 0 {
		timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}

	if opts.UsePool && inv.pool != nil {
		return inv.invokeSDKPooled(ctx, prompt, opts, timeout)
	}
	return inv.invokeSDKEphemeral(ctx, prompt, opts, timeout)
}

func (inv *Invoker) invokeSDKEphemeral(ctx context.Context, prompt string, opts v1.InvokeOptions, timeout time.Duration) (v1.InvokeResult, bool) {
	client := copilotsdk.NewClient(inv.cfg.SDK, inv.logger)
	if err := client.Start(ctx); err != nil {
		return v1.InvokeResult{}, false
	}
	defer client.Stop()

	if err := client.EnsureSession(ctx, "", nil); err != nil {
		return v1.InvokeResult{}, false
	}

	response, err := client.SendAndWait(ctx, prompt, timeout)
	if err != nil || ctx.Err() != nil {
		return v1.InvokeResult{}, false
	}

	return v1.InvokeResult{Success: true, Response: response, SessionID: client.SessionID()}, true
}

func (inv *Invoker) invokeSDKPooled(ctx context.Context, prompt string, opts v1.InvokeOptions, timeout time.Duration) (v1.InvokeResult, bool) {
	session, err := inv.pool.Checkout(ctx, opts.WorkingDirectory)
	if err != nil {
		return v1.InvokeResult{}, false
	}
	client, ok := session.Handle.(*copilotsdk.Client)
	if !ok {
		return v1.InvokeResult{}, false
	}
	defer inv.pool.Return(session)

	if err := client.EnsureSession(ctx, session.SdkSessionID, nil); err != nil {
		return v1.InvokeResult{}, false
	}

	response, err := client.SendAndWait(ctx, prompt, timeout)
	if err != nil || ctx.Err() != nil {
		return v1.InvokeResult{}, false
	}

	session.SdkSessionID = client.SessionID()
	return v1.InvokeResult{Success: true, Response: response, SessionID: client.SessionID()}, true
}

// SessionFactory builds the pool.Factory used to back a pooled SDK session.
func SessionFactory(cfg copilotsdk.Config, log *logger.Logger) pool.Factory {
	return func(ctx context.Context, workingDir string) (*pool.Session, error) {
		client := copilotsdk.NewClient(cfg, log)
		if err := client.Start(ctx); err != nil {
			return nil, err
		}
		return &pool.Session{
			ID:               workingDir,
			WorkingDirectory: workingDir,
			Handle:           client,
		}, nil
	}
}

// SessionDestroyer builds the pool.Destroyer used to tear down a pooled SDK
// session once its idle timer elapses.
func SessionDestroyer() pool.Destroyer {
	return func(s *pool.Session) {
		if client, ok := s.Handle.(*copilotsdk.Client); ok {
			client.Stop()
		}
	}
}
