package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/omni-agent/omnicore/internal/clifmt"
)

// readPIN prompts without echo. The PIN is never accepted as a flag so it
// cannot end up in shell history or process listings.
func readPIN(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// unlockedCore builds the session and unlocks the vault interactively.
func unlockedCore(cmd *cobra.Command) (*core, error) {
	c, err := coreFromViper(nil)
	if err != nil {
		return nil, err
	}
	pin, err := readPIN("vault PIN: ")
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := c.vault.Unlock(pin); err != nil {
		c.Close()
		return nil, err
	}
	startSweeper(cmd.Context(), c)
	return c, nil
}

func startSweeper(ctx context.Context, c *core) {
	go c.engine.RunSweeper(ctx)
}

func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the encrypted secret store",
	}
	cmd.AddCommand(
		newVaultStatusCmd(),
		newVaultSetCmd(),
		newVaultGetCmd(),
		newVaultListCmd(),
		newVaultDeleteCmd(),
		newVaultHistoryCmd(),
		newVaultRestoreCmd(),
		newVaultRotatePINCmd(),
	)
	return cmd
}

func newVaultStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show vault session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := coreFromViper(nil)
			if err != nil {
				return err
			}
			defer c.Close()
			st := c.vault.Status()
			fmt.Println(clifmt.Key("initialized:"), st.Initialized)
			fmt.Println(clifmt.Key("unlocked:"), st.Unlocked)
			if st.FailedUnlocks > 0 {
				fmt.Println(clifmt.Warn(fmt.Sprintf("failed unlocks: %d", st.FailedUnlocks)))
			}
			if !st.CooldownUntil.IsZero() {
				fmt.Println(clifmt.Warn("cooldown until: " + st.CooldownUntil.String()))
			}
			return nil
		},
	}
}

func newVaultSetCmd() *cobra.Command {
	var fromEnv string
	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret (value read from stdin, approval required)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := unlockedCore(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			value, err := secretValue(fromEnv)
			if err != nil {
				return err
			}
			stopPrompt := promptApprovals(cmd.Context(), c)
			defer stopPrompt()
			return c.coord.PutSecret(cmd.Context(), args[0], value)
		},
	}
	cmd.Flags().StringVar(&fromEnv, "from-env", "", "read the value from this environment variable instead of prompting")
	return cmd
}

// secretValue reads the new secret. Env lookup is fail-closed: an unset or
// blank variable is an error, never an empty secret.
func secretValue(fromEnv string) (string, error) {
	if fromEnv = strings.TrimSpace(fromEnv); fromEnv != "" {
		val, ok := os.LookupEnv(fromEnv)
		if !ok {
			return "", fmt.Errorf("environment variable %q is not set", fromEnv)
		}
		if strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("environment variable %q is empty", fromEnv)
		}
		return val, nil
	}
	return readPIN("secret value: ")
}

func newVaultGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Print a secret value to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := unlockedCore(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			value, err := c.vault.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	}
}

func newVaultListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List secret names",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := unlockedCore(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			names, err := c.vault.List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newVaultDeleteCmd() *cobra.Command {
	var erase bool
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret (approval required)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := unlockedCore(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			stopPrompt := promptApprovals(cmd.Context(), c)
			defer stopPrompt()
			return c.coord.DeleteSecret(cmd.Context(), args[0], erase)
		},
	}
	cmd.Flags().BoolVar(&erase, "erase", false, "also erase the revision history")
	return cmd
}

func newVaultHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <name>",
		Short: "List archived revisions of a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := unlockedCore(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			hist, err := c.vault.History(args[0])
			if err != nil {
				return err
			}
			for _, v := range hist {
				fmt.Printf("%d\t%s\n", v.Index, v.Timestamp.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newVaultRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <name> <version>",
		Short: "Restore an archived revision (approval required)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid version: %s", args[1])
			}
			c, err := unlockedCore(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			stopPrompt := promptApprovals(cmd.Context(), c)
			defer stopPrompt()
			return c.coord.RestoreSecret(cmd.Context(), args[0], version)
		},
	}
}

func newVaultRotatePINCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-pin",
		Short: "Re-encrypt the vault under a new PIN (approval required)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := unlockedCore(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			newPIN, err := readPIN("new PIN: ")
			if err != nil {
				return err
			}
			confirm, err := readPIN("confirm new PIN: ")
			if err != nil {
				return err
			}
			if newPIN != confirm {
				return fmt.Errorf("pins do not match")
			}
			stopPrompt := promptApprovals(cmd.Context(), c)
			defer stopPrompt()
			if err := c.coord.RotatePIN(cmd.Context(), newPIN); err != nil {
				return err
			}
			fmt.Println(clifmt.Success("vault key rotated"))
			return nil
		},
	}
}
