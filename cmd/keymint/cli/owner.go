package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/owner"
	"github.com/keymint/keymint/internal/store"
)

func newOwnerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Manage the bundled owner directory",
		Long: `Add and list owners in the store-backed directory. Only used when
owners.source is "store"; file and http directories are managed elsewhere.`,
	}

	cmd.AddCommand(newOwnerAddCmd())
	cmd.AddCommand(newOwnerListCmd())

	return cmd
}

// ---------- owner add ----------

func newOwnerAddCmd() *cobra.Command {
	var (
		id    string
		name  string
		email string
	)

	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Add an owner",
		Example: `  keymint owner add --id 42 --name "Ada Lovelace" --email ada@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOwnerAdd(cmd, &model.Owner{
				ID:    strings.TrimSpace(id),
				Name:  name,
				Email: email,
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Owner id as known to your user directory (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Contact email")
	cmd.MarkFlagRequired("id")

	return cmd
}

func runOwnerAdd(cmd *cobra.Command, o *model.Owner) error {
	if o.ID == "" {
		return fmt.Errorf("--id must not be blank")
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Owners.Source != owner.SourceStore {
		a.logger.Warn("owner directory is not store-backed; this owner will not be consulted", "source", a.cfg.Owners.Source)
	}

	if err := a.store.CreateOwner(cmdContext(cmd), o); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("owner %q already exists", o.ID)
		}
		return fmt.Errorf("create owner: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Owner %q added\n", o.ID)
	return nil
}

// ---------- owner list ----------

func newOwnerListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List owners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOwnerList(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runOwnerList(cmd *cobra.Command, jsonOutput bool) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	owners, err := a.store.ListOwners(cmdContext(cmd))
	if err != nil {
		return fmt.Errorf("list owners: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(owners)
	}

	if len(owners) == 0 {
		fmt.Fprintln(out, "No owners. Use 'keymint owner add' to add one.")
		return nil
	}

	fmt.Fprintf(out, "%-16s %-24s %-32s\n", "ID", "NAME", "EMAIL")
	fmt.Fprintf(out, "%-16s %-24s %-32s\n", "--", "----", "-----")
	for _, o := range owners {
		fmt.Fprintf(out, "%-16s %-24s %-32s\n", o.ID, o.Name, o.Email)
	}
	return nil
}
