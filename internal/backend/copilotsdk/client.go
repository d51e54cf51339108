// Package copilotsdk is a thin wrapper around github.com/github/copilot-sdk/go,
// adapted for one-shot and pooled prompt invocation rather than the
// event-streaming session model the raw SDK exposes.
package copilotsdk

import (
	"context"
	"fmt"
	"sync"
	"time"

	copilot "github.com/github/copilot-sdk/go"
	"go.uber.org/zap"

	"github.com/kdlabs/queuecore/internal/common/logger"
)

// Config holds the SDK client's connection settings.
type Config struct {
	// CLIUrl, when set, points at an externally managed Copilot CLI server
	// reached over TCP; otherwise the SDK spawns and owns its own CLI
	// subprocess over stdio.
	CLIUrl string
	Model  string
}

// Client wraps a single Copilot SDK session for either one-shot or
// session-pooled invocation.
type Client struct {
	mu        sync.Mutex
	sdkClient *copilot.Client
	session   *copilot.Session
	sessionID string
	started   bool

	cliURL string
	model  string
	logger *logger.Logger
}

// NewClient constructs a Client; Start must be called before use.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1"
	}
	return &Client{
		cliURL: cfg.CLIUrl,
		model:  cfg.Model,
		logger: log.WithFields(zap.String("component", "copilot-sdk-client")),
	}
}

// Start connects the underlying SDK client. The actual CLI connection is
// deferred by the SDK to the first CreateSession call.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	if c.cliURL != "" {
		c.sdkClient = copilot.NewClient(&copilot.ClientOptions{CLIUrl: c.cliURL, LogLevel: "error"})
	} else {
		c.sdkClient = copilot.NewClient(nil)
	}
	c.started = true
	return nil
}

// Stop destroys any active session and shuts down the SDK client.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	if c.session != nil {
		if err := c.session.Destroy(); err != nil {
			c.logger.Warn("error destroying session", zap.Error(err))
		}
		c.session = nil
	}
	if c.sdkClient != nil {
		for _, err := range c.sdkClient.Stop() {
			c.logger.Warn("error stopping SDK client", zap.Error(err))
		}
		c.sdkClient = nil
	}
	c.started = false
	return nil
}

// EnsureSession creates a session if none exists yet, or resumes one from a
// prior sessionID.
func (c *Client) EnsureSession(ctx context.Context, resumeSessionID string, mcpServers map[string]copilot.MCPServerConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return fmt.Errorf("sdk client not started")
	}
	if c.session != nil {
		return nil
	}

	if resumeSessionID != "" {
		session, err := c.sdkClient.ResumeSessionWithOptions(resumeSessionID, &copilot.ResumeSessionConfig{
			Streaming:  false,
			MCPServers: mcpServers,
		})
		if err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
		c.session = session
		c.sessionID = resumeSessionID
		return nil
	}

	session, err := c.sdkClient.CreateSession(&copilot.SessionConfig{
		Model:      c.model,
		Streaming:  false,
		MCPServers: mcpServers,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	c.session = session
	c.sessionID = session.SessionID
	return nil
}

// SendAndWait sends prompt on the current session and blocks for the reply.
func (c *Client) SendAndWait(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return "", fmt.Errorf("no active session")
	}
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	result, err := session.SendAndWait(copilot.MessageOptions{Prompt: prompt}, timeout)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if result != nil && result.Data.Content != nil {
		return *result.Data.Content, nil
	}
	return "", nil
}

// Abort cancels whatever the current session is doing.
func (c *Client) Abort(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Abort()
}

// Destroy tears down the current session so a future EnsureSession starts
// fresh, while leaving the SDK client itself started.
func (c *Client) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Destroy()
	c.session = nil
	c.sessionID = ""
	return err
}

// SessionID returns the current session's id, if any.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}
