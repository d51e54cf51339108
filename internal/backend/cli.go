package backend

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kdlabs/queuecore/internal/backend/credentials"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

const defaultCLITimeout = 10 * time.Minute

// cliInvoke runs the Copilot CLI once, non-interactively, piping prompt on
// stdin and capturing stdout as the response. cwd binds the subprocess to
// the task's working directory. creds may be nil, in which case the
// subprocess simply inherits the current process environment.
//
// The subprocess is started with exec.Command, not exec.CommandContext: a
// CLI invocation can run for minutes, and CommandContext's SIGKILL-on-cancel
// races whatever partial output the process has already buffered. Instead,
// timeoutCtx's cancellation is watched explicitly: the process is killed by
// hand and Wait is then allowed to collect it before returning.
func cliInvoke(ctx context.Context, prompt string, opts v1.InvokeOptions, creds *credentials.Manager) v1.InvokeResult {
	timeout := defaultCLITimeout
	if opts.TimeoutMs > 0 {
		timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-y", "@github/copilot", "--print"}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}

	cmd := exec.Command("npx", args...)
	if opts.WorkingDirectory != "" {
		cmd.Dir = opts.WorkingDirectory
	}
	cmd.Env = envWithCredentials(ctx, creds)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return v1.InvokeResult{Success: false, Error: err.Error()}
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var err error
	select {
	case err = <-waitErr:
	case <-timeoutCtx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-waitErr
		return v1.InvokeResult{Success: false, Error: timeoutCtx.Err().Error()}
	}

	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return v1.InvokeResult{Success: false, Error: msg}
	}

	return v1.InvokeResult{Success: true, Response: strings.TrimSpace(stdout.String())}
}

// envWithCredentials extends the current process environment with every
// credential the Manager can resolve for the known API key patterns, so the
// CLI subprocess can authenticate without the caller wiring env vars by hand.
func envWithCredentials(ctx context.Context, creds *credentials.Manager) []string {
	env := os.Environ()
	if creds == nil {
		return env
	}
	for _, key := range creds.ListAvailable(ctx) {
		if value, err := creds.GetCredentialValue(ctx, key); err == nil {
			env = append(env, key+"="+value)
		}
	}
	return env
}
