package command

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommandVersion(t *testing.T) {
	cmd := NewRootCmd("test")

	output, err := executeCommand(cmd, "--version")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !strings.Contains(output, "murmur version test") {
		t.Fatalf("expected version output, got %q", output)
	}
}

func TestRootCommandHelp(t *testing.T) {
	cmd := NewRootCmd("test")

	output, err := executeCommand(cmd)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !strings.Contains(output, "two-party messenger") {
		t.Fatalf("expected help output, got %q", output)
	}
	for _, sub := range []string{"send", "history", "watch", "chat", "serve"} {
		if !strings.Contains(output, sub) {
			t.Fatalf("expected %s in help, got %q", sub, output)
		}
	}
}

func TestCommandsOutsideWorkspace(t *testing.T) {
	t.Chdir(t.TempDir())

	output, err := executeCommand(NewRootCmd("test"), "ls")
	if err == nil {
		t.Fatal("expected error outside a workspace")
	}
	if !strings.Contains(output, "murmur init") {
		t.Fatalf("expected init hint, got %q", output)
	}
}
