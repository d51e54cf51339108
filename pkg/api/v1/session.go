package v1

import "time"

// TerminalType enumerates the external terminal emulators the Interactive
// Session Manager knows how to spawn.
type TerminalType string

const (
	TerminalMacTerminal  TerminalType = "terminal"
	TerminalITerm        TerminalType = "iterm"
	TerminalAlacritty    TerminalType = "alacritty"
	TerminalGnomeTerm    TerminalType = "gnome-terminal"
	TerminalKonsole      TerminalType = "konsole"
	TerminalXterm        TerminalType = "xterm"
	TerminalWindowsTerm  TerminalType = "windows-terminal"
	TerminalCmd          TerminalType = "cmd"
	TerminalPowerShell   TerminalType = "powershell"
)

// SessionStatus is the lifecycle state of an InteractiveSession.
type SessionStatus string

const (
	SessionStatusStarting SessionStatus = "starting"
	SessionStatusActive   SessionStatus = "active"
	SessionStatusEnded    SessionStatus = "ended"
	SessionStatusError    SessionStatus = "error"
)

// InteractiveSession tracks a long-running AI tool running in an external
// terminal, identified by PID.
type InteractiveSession struct {
	ID                string        `json:"id"`
	WorkingDirectory  string        `json:"workingDirectory"`
	Tool              string        `json:"tool"`
	PreferredTerminal TerminalType  `json:"preferredTerminal,omitempty"`
	Pid               int           `json:"pid,omitempty"`
	Status            SessionStatus `json:"status"`
	StartTime         time.Time     `json:"startTime"`
	EndTime           *time.Time    `json:"endTime,omitempty"`
	CustomName        string        `json:"customName,omitempty"`
	InitialPrompt     string        `json:"initialPrompt,omitempty"`
	Error             string        `json:"error,omitempty"`
}

// StartSessionOptions are the caller-supplied inputs to Start.
type StartSessionOptions struct {
	WorkingDirectory  string
	Tool              string
	PreferredTerminal TerminalType
	InitialPrompt     string
	CustomName        string
}

// SessionEventType enumerates the change events the Interactive Session
// Manager emits.
type SessionEventType string

const (
	SessionEventStarted SessionEventType = "session-started"
	SessionEventUpdated SessionEventType = "session-updated"
	SessionEventEnded   SessionEventType = "session-ended"
	SessionEventError   SessionEventType = "session-error"
)

// SessionEvent is the payload delivered to Interactive Session Manager
// onChange listeners.
type SessionEvent struct {
	Type    SessionEventType     `json:"type"`
	Session *InteractiveSession  `json:"session,omitempty"`
}

// SessionCounts summarizes the session manager's current counts by status.
type SessionCounts struct {
	Starting int `json:"starting"`
	Active   int `json:"active"`
	Ended    int `json:"ended"`
	Error    int `json:"error"`
}
