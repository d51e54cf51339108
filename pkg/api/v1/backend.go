package v1

// BackendType enumerates the three AI backends the Backend Invoker unifies.
type BackendType string

const (
	BackendCopilotSDK BackendType = "copilot-sdk"
	BackendCopilotCLI BackendType = "copilot-cli"
	BackendClipboard  BackendType = "clipboard"
)

// PermissionApprovalFunc is consulted by an SDK invocation that needs
// caller approval before taking an action; returning false denies it.
type PermissionApprovalFunc func(action string) bool

// InvokeOptions are the recognized configuration options accepted by a
// Backend Invoker call.
type InvokeOptions struct {
	Backend           BackendType
	UsePool           bool
	WorkingDirectory  string
	ClipboardFallback bool
	FeatureName       string
	Model             string
	TimeoutMs         int
	OnApproval        PermissionApprovalFunc
}

// InvokeResult is the unified outcome of a Backend Invoker call.
type InvokeResult struct {
	Success   bool
	Response  string
	SessionID string
	Error     string
}
