package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/keymint/keymint/internal/model"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Generate, list, deactivate and verify API keys.",
	}

	cmd.AddCommand(newKeyGenerateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyDeactivateCmd())
	cmd.AddCommand(newKeyVerifyCmd())

	return cmd
}

// ---------- key generate ----------

func newKeyGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "generate <name> [owner-id]",
		Aliases: []string{"create"},
		Short:   "Generate a new API key",
		Long: `Generate a new API key, optionally bound to an owner. Names must be lowercase
letters and hyphens and are never reused. An owner may hold one active key.
The secret is shown once and cannot be retrieved again.`,
		Example: `  keymint key generate ci-pipeline
  keymint key generate ada-primary 42`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ownerID *string
			if len(args) == 2 {
				ownerID = &args[1]
			}
			return runKeyGenerate(cmd, args[0], ownerID)
		},
	}

	return cmd
}

func runKeyGenerate(cmd *cobra.Command, name string, ownerID *string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	issued, err := a.keys.Issue(cmdContext(cmd), name, ownerID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "API key created")
	fmt.Fprintf(out, "Name: %s\n", issued.Name)
	fmt.Fprintf(out, "Key: %s\n", issued.Secret)
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		ownerID    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *string
			if cmd.Flags().Changed("owner") {
				filter = &ownerID
			}
			return runKeyList(cmd, filter, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Only list keys bound to this owner")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(cmd *cobra.Command, ownerID *string, jsonOutput bool) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	keys, err := a.keys.List(cmdContext(cmd), ownerID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Fprintln(out, "No API keys issued. Use 'keymint key generate' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-24s %-14s %-12s %-8s %-20s\n", "NAME", "PREFIX", "OWNER", "ACTIVE", "CREATED")
	fmt.Fprintf(out, "%-24s %-14s %-12s %-8s %-20s\n", "----", "------", "-----", "------", "-------")
	for _, k := range keys {
		fmt.Fprintf(out, "%-24s %-14s %-12s %-8s %-20s\n",
			k.Name, k.SecretPrefix, ownerLabel(&k), yesNo(k.Active), k.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func ownerLabel(k *model.APIKey) string {
	if k.OwnerID == nil {
		return "-"
	}
	return *k.OwnerID
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// ---------- key deactivate ----------

func newKeyDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deactivate <name>",
		Aliases: []string{"revoke"},
		Short:   "Deactivate an API key by name",
		Long:    "Deactivate an API key. Its secret stops verifying and its owner may be issued a new key. The name stays reserved.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyDeactivate(cmd, args[0])
		},
	}

	return cmd
}

func runKeyDeactivate(cmd *cobra.Command, name string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.keys.Deactivate(cmdContext(cmd), name); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deactivated API key %q\n", name)
	return nil
}

// ---------- key verify ----------

func newKeyVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <secret>",
		Short: "Check whether a secret belongs to an active key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyVerify(cmd, args[0])
		},
	}

	return cmd
}

func runKeyVerify(cmd *cobra.Command, secret string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	key, err := a.keys.Verify(cmdContext(cmd), secret)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "API key is valid")
	fmt.Fprintf(out, "Name: %s\n", key.Name)
	fmt.Fprintf(out, "Owner: %s\n", ownerLabel(key))
	return nil
}
