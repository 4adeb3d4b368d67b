package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/2rtk/ntripcaster/pkg/store"
)

var adminPassword string

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage operator accounts",
	Long: `Manage the operator accounts that authenticate against the
admin API and the CLI. The "admin" account is created automatically on
first serve.

Examples:
  ntripcaster admin passwd admin`,
}

var adminPasswdCmd = &cobra.Command{
	Use:     "passwd <username>",
	Aliases: []string{"password", "set-password"},
	Short:   "Change an operator's password",
	Args:    cobra.ExactArgs(1),
	RunE:    runAdminPasswd,
}

func init() {
	adminPasswdCmd.Flags().StringVar(&adminPassword, "password", "", "Password (prompted when omitted)")

	adminCmd.AddCommand(adminPasswdCmd)
}

func runAdminPasswd(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	password := adminPassword
	if password == "" {
		password, err = promptPassword(fmt.Sprintf("New password for %s", args[0]))
		if err != nil {
			return err
		}
	}

	if err := st.SetAdminPassword(cmdContext(), args[0], password); err != nil {
		if errors.Is(err, store.ErrAdminNotFound) {
			return fmt.Errorf("admin %q not found", args[0])
		}
		return err
	}

	fmt.Printf("Password updated for %q\n", args[0])
	return nil
}
