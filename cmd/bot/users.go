package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shoma-endo/lark-mcp-bot/internal/auth"
)

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the sender allowlist file",
	}

	open := func() (*auth.Service, error) {
		if a.cfg.AllowlistFilePath == "" {
			return nil, errors.New("ALLOWLIST_FILE_PATH is not set")
		}
		return a.authService()
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List allowed senders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := open()
			if err != nil {
				return err
			}
			users := svc.List()
			if len(users) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "allowlist is empty, everyone is allowed")
				return nil
			}
			for _, u := range users {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", u.ID, u.Name)
			}
			return nil
		},
	}, &cobra.Command{
		Use:   "add <user-id> [name]",
		Short: "Allow a sender",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := open()
			if err != nil {
				return err
			}
			user := auth.User{ID: strings.TrimSpace(args[0])}
			if len(args) == 2 {
				user.Name = args[1]
			}
			if err := svc.Upsert(user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", user.ID)
			return nil
		},
	}, &cobra.Command{
		Use:   "remove <user-id>",
		Short: "Revoke a sender",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := open()
			if err != nil {
				return err
			}
			if err := svc.Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	})
	return cmd
}
