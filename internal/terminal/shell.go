package terminal

import (
	"fmt"
	"os"
	"runtime"
)

// Terminal modes. A mode selects which command the PTY child runs; beyond
// launch time the registry treats all modes identically.
const (
	ModeShell    = "shell"
	ModeClaude   = "claude"
	ModeCodex    = "codex"
	ModeOpencode = "opencode"
	ModeGemini   = "gemini"
	ModeKimi     = "kimi"
)

// Shell choices. Only meaningful on Windows; elsewhere the user's login
// shell is used and any value other than "system" is rejected.
const (
	ShellSystem     = "system"
	ShellCmd        = "cmd"
	ShellPowershell = "powershell"
	ShellWSL        = "wsl"
)

var codingCLIs = map[string]bool{
	ModeClaude:   true,
	ModeCodex:    true,
	ModeOpencode: true,
	ModeGemini:   true,
	ModeKimi:     true,
}

// ValidMode reports whether mode names a launchable terminal mode.
func ValidMode(mode string) bool {
	return mode == ModeShell || codingCLIs[mode]
}

// ValidShell reports whether shell names a known shell choice. Platform
// availability is checked at spawn time; this is membership only.
func ValidShell(shell string) bool {
	switch shell {
	case "", ShellSystem, ShellCmd, ShellPowershell, ShellWSL:
		return true
	}
	return false
}

// resolveCommand maps (mode, shell) to the argv the PTY child runs.
// resumeSessionID is forwarded to coding CLIs that support resuming a
// conversation; shells ignore it.
func resolveCommand(mode, shell, resumeSessionID string) (string, []string, error) {
	if mode == "" {
		mode = ModeShell
	}
	if !ValidMode(mode) {
		return "", nil, fmt.Errorf("unknown mode %q", mode)
	}

	if codingCLIs[mode] {
		var args []string
		if resumeSessionID != "" {
			switch mode {
			case ModeClaude:
				args = []string{"--resume", resumeSessionID}
			case ModeCodex:
				args = []string{"resume", resumeSessionID}
			}
		}
		return mode, args, nil
	}

	return resolveShell(shell)
}

// resolveShell picks the shell binary for the host platform. On Windows the
// caller chooses between cmd, powershell and wsl; everywhere else the login
// shell from $SHELL is used, falling back to /bin/sh.
func resolveShell(shell string) (string, []string, error) {
	if runtime.GOOS == "windows" {
		switch shell {
		case ShellCmd:
			return "cmd.exe", nil, nil
		case ShellPowershell:
			return "powershell.exe", []string{"-NoLogo"}, nil
		case ShellWSL:
			return "wsl.exe", nil, nil
		case "", ShellSystem:
			return "cmd.exe", nil, nil
		default:
			return "", nil, fmt.Errorf("unknown shell %q", shell)
		}
	}

	if shell != "" && shell != ShellSystem {
		return "", nil, fmt.Errorf("shell %q is only available on windows", shell)
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh, nil, nil
	}
	return "/bin/sh", nil, nil
}
