package session

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

// OS name constants used for runtime.GOOS comparisons.
const (
	osDarwin  = "darwin"
	osLinux   = "linux"
	osWindows = "windows"
)

// spawnSpec is the resolved command used to launch a detached terminal.
type spawnSpec struct {
	name string
	args []string
}

// launchTerminal spawns a detached external terminal running command in
// workingDir, selecting a terminal emulator per preferred (if set and
// available) or by OS detection otherwise. It returns the spawned pid.
func launchTerminal(ctx context.Context, preferred v1.TerminalType, workingDir, command string) (int, error) {
	terminal, spec, err := resolveTerminal(preferred, workingDir, command)
	if err != nil {
		return 0, err
	}

	cmd := exec.CommandContext(ctx, spec.name, spec.args...)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn %s: %w", terminal, err)
	}

	// The terminal emulator process itself is detached; the caller tracks its
	// pid for liveness monitoring, not for Wait() (doing so would block on a
	// long-lived interactive session).
	go func() { _ = cmd.Process.Release() }()

	return cmd.Process.Pid, nil
}

// resolveTerminal picks a terminal emulator and builds its spawn spec.
// preferred is honored when set and available on the current OS; otherwise
// the first available emulator for the OS is used.
func resolveTerminal(preferred v1.TerminalType, workingDir, command string) (v1.TerminalType, spawnSpec, error) {
	candidates := candidatesFor(preferred)
	for _, t := range candidates {
		if spec, ok := specFor(t, workingDir, command); ok {
			return t, spec, nil
		}
	}
	return "", spawnSpec{}, fmt.Errorf("no supported terminal emulator available on %s", runtime.GOOS)
}

// candidatesFor returns the ordered list of terminals to try: preferred
// first (if non-empty), then the OS-appropriate fallback order.
func candidatesFor(preferred v1.TerminalType) []v1.TerminalType {
	fallback := defaultOrderForOS()
	if preferred == "" {
		return fallback
	}
	ordered := []v1.TerminalType{preferred}
	for _, t := range fallback {
		if t != preferred {
			ordered = append(ordered, t)
		}
	}
	return ordered
}

func defaultOrderForOS() []v1.TerminalType {
	switch runtime.GOOS {
	case osDarwin:
		return []v1.TerminalType{v1.TerminalMacTerminal, v1.TerminalITerm, v1.TerminalAlacritty}
	case osLinux:
		return []v1.TerminalType{v1.TerminalGnomeTerm, v1.TerminalKonsole, v1.TerminalXterm, v1.TerminalAlacritty}
	case osWindows:
		return []v1.TerminalType{v1.TerminalWindowsTerm, v1.TerminalCmd, v1.TerminalPowerShell}
	default:
		return nil
	}
}

// specFor builds the spawn spec for terminal t if the underlying binary is
// available. ok is false when t is not valid for the current OS or its
// binary cannot be found.
func specFor(t v1.TerminalType, workingDir, command string) (spawnSpec, bool) {
	switch t {
	case v1.TerminalMacTerminal:
		if runtime.GOOS != osDarwin {
			return spawnSpec{}, false
		}
		shellCmd := fmt.Sprintf("cd %s && %s", shellQuote(workingDir), command)
		script := fmt.Sprintf(`tell application "Terminal" to do script "%s"`, appleScriptQuote(shellCmd))
		return spawnSpec{name: "osascript", args: []string{"-e", script}}, true

	case v1.TerminalITerm:
		if runtime.GOOS != osDarwin {
			return spawnSpec{}, false
		}
		shellCmd := fmt.Sprintf("cd %s && %s", shellQuote(workingDir), command)
		script := fmt.Sprintf(`tell application "iTerm" to create window with default profile command "%s"`, appleScriptQuote(shellCmd))
		return spawnSpec{name: "osascript", args: []string{"-e", script}}, true

	case v1.TerminalAlacritty:
		if !binaryAvailable("alacritty") {
			return spawnSpec{}, false
		}
		return spawnSpec{name: "alacritty", args: []string{"--working-directory", workingDir, "-e", "sh", "-c", command}}, true

	case v1.TerminalGnomeTerm:
		if !binaryAvailable("gnome-terminal") {
			return spawnSpec{}, false
		}
		return spawnSpec{name: "gnome-terminal", args: []string{"--working-directory", workingDir, "--", "sh", "-c", command}}, true

	case v1.TerminalKonsole:
		if !binaryAvailable("konsole") {
			return spawnSpec{}, false
		}
		return spawnSpec{name: "konsole", args: []string{"--workdir", workingDir, "-e", "sh", "-c", command}}, true

	case v1.TerminalXterm:
		if !binaryAvailable("xterm") {
			return spawnSpec{}, false
		}
		return spawnSpec{name: "xterm", args: []string{"-e", "sh", "-c", fmt.Sprintf("cd %s && %s", shellQuote(workingDir), command)}}, true

	case v1.TerminalWindowsTerm:
		if runtime.GOOS != osWindows || !binaryAvailable("wt.exe") {
			return spawnSpec{}, false
		}
		return spawnSpec{name: "wt.exe", args: []string{"-d", workingDir, "cmd", "/k", command}}, true

	case v1.TerminalCmd:
		if runtime.GOOS != osWindows {
			return spawnSpec{}, false
		}
		return spawnSpec{name: "cmd", args: []string{"/c", "start", "cmd", "/k", command}}, true

	case v1.TerminalPowerShell:
		if runtime.GOOS != osWindows {
			return spawnSpec{}, false
		}
		return spawnSpec{name: "powershell.exe", args: []string{"-NoExit", "-Command", command}}, true

	default:
		return spawnSpec{}, false
	}
}

func binaryAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// shellQuote wraps s in single quotes for safe embedding in a POSIX sh -c
// command line. Go's %q escapes for Go string-literal syntax, not shell
// syntax, and still leaves $(...), backticks, and $VAR live when the result
// reaches sh -c.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// appleScriptQuote escapes s for embedding inside a double-quoted AppleScript
// string literal passed to osascript -e.
func appleScriptQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
