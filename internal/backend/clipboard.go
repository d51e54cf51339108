package backend

import (
	"github.com/atotto/clipboard"

	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

// clipboardFallback copies prompt to the system clipboard and returns the
// non-success result describing the fallback. Only the Backend Invoker
// writes to the clipboard, and only when a caller explicitly enabled it.
func clipboardFallback(prompt string, reason string) v1.InvokeResult {
	if err := clipboard.WriteAll(prompt); err != nil {
		return v1.InvokeResult{Success: false, Error: "clipboard fallback failed: " + err.Error()}
	}
	if reason != "" {
		return v1.InvokeResult{Success: false, Error: reason + "; prompt copied to clipboard"}
	}
	return v1.InvokeResult{Success: false, Error: "prompt copied to clipboard"}
}
