package command

import (
	"fmt"
	"strings"

	"github.com/adamavenir/murmur/internal/core"
	"github.com/adamavenir/murmur/internal/db"
	"github.com/spf13/cobra"
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a murmur workspace in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			user, _ := cmd.Flags().GetString("user")
			name, _ := cmd.Flags().GetString("name")
			transport, _ := cmd.Flags().GetString("transport")
			pushURL, _ := cmd.Flags().GetString("push-url")
			jsonMode, _ := cmd.Flags().GetBool("json")
			dir, _ := cmd.Flags().GetString("dir")

			user = normalizeUserID(user)
			if user == "" {
				return writeCommandError(cmd, fmt.Errorf("--user is required"))
			}

			ws, err := core.InitWorkspace(dir, force)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			cfg := core.DefaultConfig()
			cfg.UserID = user
			cfg.DisplayName = strings.TrimSpace(name)
			if transport != "" {
				cfg.Transport = transport
			}
			cfg.PushURL = pushURL
			if err := cfg.Validate(); err != nil {
				return writeCommandError(cmd, err)
			}
			if err := core.WriteConfig(ws, cfg); err != nil {
				return writeCommandError(cmd, err)
			}

			conn, err := db.OpenDatabase(ws)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := conn.Close(); err != nil {
				return writeCommandError(cmd, err)
			}

			if jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"initialized": true,
					"path":        ws.Dir,
					"user_id":     cfg.UserID,
					"transport":   cfg.Transport,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Initialized %s for %s (%s transport)\n", ws.Dir, cfg.UserID, cfg.Transport)
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "reinitialize an existing workspace")
	cmd.Flags().String("user", "", "your user id")
	cmd.Flags().String("name", "", "display name shown to peers")
	cmd.Flags().String("transport", "", "push transport: local, ws or redis")
	cmd.Flags().String("push-url", "", "websocket or redis URL for the push transport")
	cmd.Flags().String("dir", "", "directory to initialize (default: current directory)")
	return cmd
}
