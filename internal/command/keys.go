package command

import (
	"bytes"
	"fmt"

	"github.com/adamavenir/murmur/internal/core"
	"github.com/adamavenir/murmur/internal/seal"
	"github.com/spf13/cobra"
)

// NewKeysCmd creates the keys command group.
func NewKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage end-to-end encryption keys",
	}
	cmd.AddCommand(newKeysInitCmd(), newKeysShowCmd())
	return cmd
}

func newKeysInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate your identity key, sealed with a passphrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, user, err := keysContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			force, _ := cmd.Flags().GetBool("force")
			if seal.HasIdentity(ws.KeysDir(), user) && !force {
				return writeCommandError(cmd, fmt.Errorf("%s already has a key. Use --force to replace it", user))
			}

			pass, err := readPassphrase("New passphrase")
			if err != nil {
				return writeCommandError(cmd, err)
			}
			confirm, err := readPassphrase("Repeat passphrase")
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if !bytes.Equal(pass, confirm) {
				return writeCommandError(cmd, fmt.Errorf("passphrases do not match"))
			}

			id, err := seal.GenerateIdentity(user)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := id.Save(ws.KeysDir(), pass); err != nil {
				return writeCommandError(cmd, err)
			}

			if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"user_id":     user,
					"fingerprint": seal.Fingerprint(id.Public),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Key created for %s\n  fingerprint %s\n", user, seal.Fingerprint(id.Public))
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "replace an existing key")
	return cmd
}

func newKeysShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [user]",
		Short: "Show the public key fingerprint of a user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, user, err := keysContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if len(args) == 1 {
				user = normalizeUserID(args[0])
			}
			pub, err := seal.LoadPublic(ws.KeysDir(), user)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"user_id":     user,
					"fingerprint": seal.Fingerprint(pub),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", user, seal.Fingerprint(pub))
			return nil
		},
	}
}

// keysContext resolves the workspace and user without opening the database.
func keysContext(cmd *cobra.Command) (core.Workspace, string, error) {
	ws, err := core.DiscoverWorkspace("")
	if err != nil {
		return core.Workspace{}, "", err
	}
	cfg, err := core.LoadConfig(ws)
	if err != nil {
		return core.Workspace{}, "", err
	}
	user := cfg.UserID
	if as, _ := cmd.Flags().GetString("as"); as != "" {
		user = normalizeUserID(as)
	}
	if user == "" {
		return core.Workspace{}, "", fmt.Errorf("no user configured. Pass --as")
	}
	return ws, user, nil
}
