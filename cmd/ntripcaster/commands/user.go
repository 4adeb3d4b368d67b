package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2rtk/ntripcaster/pkg/store"
)

var userPassword string

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage rover accounts",
	Long: `Manage the rover (download) accounts stored in the credential
database. NTRIP 2.0 base stations authenticate with these accounts too.

Examples:
  ntripcaster user add rover1
  ntripcaster user passwd rover1
  ntripcaster user list
  ntripcaster user delete rover1`,
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a new rover account",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List rover accounts",
	Args:    cobra.NoArgs,
	RunE:    runUserList,
}

var userPasswdCmd = &cobra.Command{
	Use:     "passwd <username>",
	Aliases: []string{"password"},
	Short:   "Change a rover account's password",
	Args:    cobra.ExactArgs(1),
	RunE:    runUserPasswd,
}

var userDeleteCmd = &cobra.Command{
	Use:     "delete <username>",
	Aliases: []string{"remove", "del"},
	Short:   "Delete a rover account",
	Args:    cobra.ExactArgs(1),
	RunE:    runUserDelete,
}

func init() {
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "Password (prompted when omitted)")
	userPasswdCmd.Flags().StringVar(&userPassword, "password", "", "Password (prompted when omitted)")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userPasswdCmd)
	userCmd.AddCommand(userDeleteCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	password := userPassword
	if password == "" {
		password, err = promptPassword(fmt.Sprintf("Password for %s", args[0]))
		if err != nil {
			return err
		}
	}

	user, err := st.CreateUser(cmdContext(), args[0], password)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			return fmt.Errorf("user %q already exists", args[0])
		}
		return err
	}

	fmt.Printf("User %q created\n", user.Username)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	users, err := st.ListUsers(cmdContext())
	if err != nil {
		return err
	}

	if len(users) == 0 {
		fmt.Println("No users")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tCREATED")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\n", u.Username, u.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runUserPasswd(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	password := userPassword
	if password == "" {
		password, err = promptPassword(fmt.Sprintf("New password for %s", args[0]))
		if err != nil {
			return err
		}
	}

	if err := st.UpdateUserPassword(cmdContext(), args[0], password); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return fmt.Errorf("user %q not found", args[0])
		}
		return err
	}

	fmt.Printf("Password updated for %q\n", args[0])
	return nil
}

func runUserDelete(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.DeleteUser(cmdContext(), args[0]); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return fmt.Errorf("user %q not found", args[0])
		}
		return err
	}

	fmt.Printf("User %q deleted\n", args[0])
	return nil
}
