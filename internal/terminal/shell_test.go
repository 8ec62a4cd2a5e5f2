package terminal

import (
	"runtime"
	"testing"
)

func TestValidMode(t *testing.T) {
	for _, mode := range []string{ModeShell, ModeClaude, ModeCodex, ModeOpencode, ModeGemini, ModeKimi} {
		if !ValidMode(mode) {
			t.Errorf("ValidMode(%q) = false", mode)
		}
	}
	if ValidMode("vim") {
		t.Error("ValidMode accepted an unknown mode")
	}
}

func TestValidShell(t *testing.T) {
	for _, shell := range []string{"", ShellSystem, ShellCmd, ShellPowershell, ShellWSL} {
		if !ValidShell(shell) {
			t.Errorf("ValidShell(%q) = false", shell)
		}
	}
	if ValidShell("fish") {
		t.Error("ValidShell accepted an unknown shell")
	}
}

func TestResolveCommandCodingCLIs(t *testing.T) {
	name, args, err := resolveCommand(ModeClaude, "", "")
	if err != nil || name != "claude" || len(args) != 0 {
		t.Errorf("claude: got %q %v %v", name, args, err)
	}

	name, args, err = resolveCommand(ModeClaude, "", "sess-1")
	if err != nil || name != "claude" {
		t.Fatalf("claude resume: got %q %v", name, err)
	}
	if len(args) != 2 || args[0] != "--resume" || args[1] != "sess-1" {
		t.Errorf("claude resume args = %v", args)
	}

	name, args, err = resolveCommand(ModeCodex, "", "sess-2")
	if err != nil || name != "codex" {
		t.Fatalf("codex resume: got %q %v", name, err)
	}
	if len(args) != 2 || args[0] != "resume" || args[1] != "sess-2" {
		t.Errorf("codex resume args = %v", args)
	}

	// CLIs without a resume flag ignore the session ID.
	name, args, err = resolveCommand(ModeGemini, "", "sess-3")
	if err != nil || name != "gemini" || len(args) != 0 {
		t.Errorf("gemini: got %q %v %v", name, args, err)
	}
}

func TestResolveCommandUnknownMode(t *testing.T) {
	if _, _, err := resolveCommand("emacs", "", ""); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestResolveShellUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell resolution")
	}

	t.Setenv("SHELL", "/bin/zsh")
	name, _, err := resolveCommand(ModeShell, "", "")
	if err != nil || name != "/bin/zsh" {
		t.Errorf("login shell: got %q %v", name, err)
	}

	t.Setenv("SHELL", "")
	name, _, err = resolveCommand(ModeShell, ShellSystem, "")
	if err != nil || name != "/bin/sh" {
		t.Errorf("fallback: got %q %v", name, err)
	}

	// Windows shell names are rejected elsewhere.
	if _, _, err := resolveCommand(ModeShell, ShellPowershell, ""); err == nil {
		t.Error("powershell accepted on a unix host")
	}
}

func TestResolveCommandDefaultsToShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell resolution")
	}
	t.Setenv("SHELL", "/bin/bash")
	name, _, err := resolveCommand("", "", "")
	if err != nil || name != "/bin/bash" {
		t.Errorf("empty mode: got %q %v", name, err)
	}
}
