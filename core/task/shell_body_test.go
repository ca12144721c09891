package task

import (
	"context"
	"strings"
	"testing"
)

func TestShellBodyRunsWhitelistedCommand(t *testing.T) {
	var captured ShellResult
	body := ShellBody("echo hello", func(r ShellResult) { captured = r })
	result, err := body(context.Background())
	if err != nil {
		t.Fatalf("ShellBody: %v", err)
	}
	if result != ResultSuccess {
		t.Fatalf("result = %v, want ResultSuccess", result)
	}
	if !strings.Contains(captured.Stdout, "hello") {
		t.Fatalf("stdout = %q, want it to contain hello", captured.Stdout)
	}
}

func TestShellBodyRejectsUnlistedCommand(t *testing.T) {
	body := ShellBody("rm -rf /tmp/whatever", nil)
	result, err := body(context.Background())
	if err == nil {
		t.Fatalf("expected an error for a non-whitelisted command")
	}
	if result != ResultFailure {
		t.Fatalf("result = %v, want ResultFailure", result)
	}
}

func TestShellBodyRejectsEmptyScript(t *testing.T) {
	body := ShellBody("   ", nil)
	if _, err := body(context.Background()); err == nil {
		t.Fatalf("expected an error for an empty script")
	}
}
