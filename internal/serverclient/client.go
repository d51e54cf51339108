// Package serverclient implements the Server Client: a non-blocking
// outbound HTTP sync of Process Registry mutations to a remote dashboard.
package serverclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kdlabs/queuecore/internal/common/logger"
)

const (
	defaultQueueSize  = 500
	initialBackoff    = 1 * time.Second
	maxBackoff        = 30 * time.Second
	healthCheckMethod = http.MethodGet
)

// request is one queued outbound sync call.
type request struct {
	method string
	path   string
	body   interface{}
}

// permanentError marks a send failure the flush loop should not retry: the
// server has already rejected this exact request (4xx other than a rate
// limit), and resending the same bytes would only get the same response.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Config holds the Server Client's static configuration.
type Config struct {
	BaseURL     string
	WorkspaceID string
	QueueSize   int
	HTTPClient  *http.Client
}

// ConnectionListener is notified whenever the connected flag changes.
type ConnectionListener func(connected bool)

// Client queues outbound sync requests and drains them sequentially with
// exponential backoff on failure. All public methods enqueue and return
// immediately except HealthCheck, the only synchronous call.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *logger.Logger

	queue chan request

	mu          sync.Mutex
	connected   bool
	listeners   map[int]ConnectionListener
	nextListener int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Client and starts its background flush loop.
func New(cfg Config, log *logger.Logger) *Client {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}

	c := &Client{
		cfg:       cfg,
		http:      cfg.HTTPClient,
		logger:    log,
		queue:     make(chan request, cfg.QueueSize),
		listeners: make(map[int]ConnectionListener),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go c.flushLoop()
	return c
}

// OnConnectionChange registers a listener for connected-flag changes and
// returns a function that unsubscribes it.
func (c *Client) OnConnectionChange(l ConnectionListener) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = l
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	if c.connected == connected {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	listeners := make([]ConnectionListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(connected)
	}
}

// enqueue adds req to the queue, dropping the oldest queued item on overflow.
func (c *Client) enqueue(req request) {
	select {
	case c.queue <- req:
		return
	default:
	}

	// Queue is full: drop the oldest item to make room, per the bounded
	// drop-oldest-on-overflow policy.
	select {
	case <-c.queue:
	default:
	}
	select {
	case c.queue <- req:
	default:
		c.logger.Warn("server client queue overflow, dropping request", zap.String("path", req.path))
	}
}

// RegisterWorkspace enqueues a workspace registration call.
func (c *Client) RegisterWorkspace(workspaceID, name, rootPath string) {
	c.enqueue(request{method: http.MethodPost, path: "/api/workspaces", body: map[string]string{
		"id": workspaceID, "name": name, "rootPath": rootPath,
	}})
}

// CreateProcess enqueues a process-creation sync call.
func (c *Client) CreateProcess(process interface{}) {
	c.enqueue(request{method: http.MethodPost, path: "/api/processes", body: process})
}

// PatchProcess enqueues a partial process-update sync call.
func (c *Client) PatchProcess(processID string, patch interface{}) {
	c.enqueue(request{method: http.MethodPatch, path: "/api/processes/" + processID, body: patch})
}

// DeleteProcess enqueues a process-deletion sync call.
func (c *Client) DeleteProcess(processID string) {
	c.enqueue(request{method: http.MethodDelete, path: "/api/processes/" + processID, body: nil})
}

// CancelProcess enqueues a process-cancellation sync call.
func (c *Client) CancelProcess(processID string) {
	c.enqueue(request{method: http.MethodPost, path: "/api/processes/" + processID + "/cancel", body: nil})
}

// HealthCheck is the only synchronous call on Client. It performs a single
// health probe against the remote dashboard and updates the connected flag.
func (c *Client) HealthCheck(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, healthCheckMethod, c.cfg.BaseURL+"/api/health", nil)
	if err != nil {
		c.setConnected(false)
		return false
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.setConnected(false)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.setConnected(ok)
	return ok
}

// Close cancels all pending retries without flushing the queue.
func (c *Client) Close() {
	close(c.stopCh)
	<-c.doneCh
}

// flushLoop drains the queue sequentially, applying exponential backoff
// starting at 1s doubling to a 30s cap on failure. A successful send resets
// the backoff to its initial value.
func (c *Client) flushLoop() {
	defer close(c.doneCh)

	backoff := initialBackoff
	for {
		select {
		case <-c.stopCh:
			return
		case req := <-c.queue:
			for {
				select {
				case <-c.stopCh:
					return
				default:
				}

				if err := c.send(req); err != nil {
					var perm *permanentError
					if errors.As(err, &perm) {
						c.logger.Warn("server client sync rejected, dropping request",
							zap.String("path", req.path), zap.Error(err))
						break
					}

					c.logger.Warn("server client sync failed, retrying",
						zap.String("path", req.path), zap.Duration("backoff", backoff), zap.Error(err))
					c.setConnected(false)

					select {
					case <-c.stopCh:
						return
					case <-time.After(backoff):
					}
					if backoff < maxBackoff {
						backoff *= 2
						if backoff > maxBackoff {
							backoff = maxBackoff
						}
					}
					continue
				}

				backoff = initialBackoff
				c.setConnected(true)
				break
			}
		}
	}
}

func (c *Client) send(req request) error {
	var bodyReader io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(req.method, c.cfg.BaseURL+req.path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("%s %s: status %d", req.method, req.path, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return err
		}
		return &permanentError{err: err}
	}
	return nil
}
