package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adamavenir/murmur/internal/seal"
	"github.com/adamavenir/murmur/internal/types"
	"github.com/spf13/cobra"
)

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())

	if hint := errorHint(err); hint != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: "+hint)
	}

	return err
}

func errorHint(err error) string {
	var permission *types.PermissionError
	switch {
	case errors.Is(err, seal.ErrNoKey):
		return "Create a key first: murmur keys init"
	case errors.Is(err, types.ErrSessionExpired):
		return "Your session expired. Sign in again."
	case errors.As(err, &permission):
		return "Only the author can change a message."
	case types.IsTransient(err):
		return "The service is busy or unreachable. Try again."
	case isSchemaError(err):
		return "This looks like a schema mismatch. Remove .murmur/murmur.db; it is rebuilt from the event log."
	}
	return ""
}

// isSchemaError checks if an error is a SQLite schema mismatch.
func isSchemaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "has no column")
}
