package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2rtk/ntripcaster/pkg/store"
)

var (
	mountSecret string
	mountOwner  string
)

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Manage mount point credentials",
	Long: `Manage the mount point credentials stored in the credential
database. The secret is the upload password checked for 0.8/1.0/RTSP
producers; an owner binds NTRIP 2.0 uploads to a single user account.

Examples:
  ntripcaster mount add BASE1 --secret s3cret
  ntripcaster mount add BASE2 --secret s3cret --owner rover1
  ntripcaster mount list
  ntripcaster mount delete BASE1`,
}

var mountAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a mount point credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runMountAdd,
}

var mountListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List mount point credentials",
	Args:    cobra.NoArgs,
	RunE:    runMountList,
}

var mountDeleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Aliases: []string{"remove", "del"},
	Short:   "Delete a mount point credential",
	Args:    cobra.ExactArgs(1),
	RunE:    runMountDelete,
}

func init() {
	mountAddCmd.Flags().StringVar(&mountSecret, "secret", "", "Upload secret (prompted when omitted)")
	mountAddCmd.Flags().StringVar(&mountOwner, "owner", "", "Bind NTRIP 2.0 uploads to this user")

	mountCmd.AddCommand(mountAddCmd)
	mountCmd.AddCommand(mountListCmd)
	mountCmd.AddCommand(mountDeleteCmd)
}

func runMountAdd(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	secret := mountSecret
	if secret == "" {
		secret, err = promptPassword(fmt.Sprintf("Secret for %s", args[0]))
		if err != nil {
			return err
		}
	}

	var ownerID *uint
	if mountOwner != "" {
		owner, err := st.GetUser(cmdContext(), mountOwner)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				return fmt.Errorf("owner user %q not found", mountOwner)
			}
			return err
		}
		ownerID = &owner.ID
	}

	mount, err := st.CreateMount(cmdContext(), args[0], secret, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateMount) {
			return fmt.Errorf("mount %q already exists", args[0])
		}
		return err
	}

	fmt.Printf("Mount %q registered\n", mount.Name)
	return nil
}

func runMountList(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	mounts, err := st.ListMounts(cmdContext())
	if err != nil {
		return err
	}

	if len(mounts) == 0 {
		fmt.Println("No mounts")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tOWNER\tCREATED")
	for _, m := range mounts {
		owner := "-"
		if m.OwnerID != nil {
			if u, err := st.GetUserByID(cmdContext(), *m.OwnerID); err == nil {
				owner = u.Username
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, owner, m.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runMountDelete(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.DeleteMount(cmdContext(), args[0]); err != nil {
		if errors.Is(err, store.ErrMountNotFound) {
			return fmt.Errorf("mount %q not found", args[0])
		}
		return err
	}

	fmt.Printf("Mount %q deleted\n", args[0])
	return nil
}
