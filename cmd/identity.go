package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage enrolled identities",
	Long: `Commands for creating, listing and (de)activating identities.
Identities are never deleted; a deactivated identity is kept with its history
but no longer matches.`,
}

var identityAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a new identity",
	Long: `Create a new identity without embeddings. Use "enroll" to add face samples.

Examples:
  face-attendance identity add "Jane Doe" --ref S-1024`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentityAdd,
}

var identityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identities",
	Args:  cobra.NoArgs,
	RunE:  runIdentityList,
}

var identitySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search identities by name or reference",
	Long: `Search identities by name or external reference. Matching ignores case
and diacritics, so "zoe" finds "Zoë".`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentitySearch,
}

var identityDeactivateCmd = &cobra.Command{
	Use:   "deactivate <identity>",
	Short: "Deactivate an identity (by ID or reference)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIdentitySetActive(args[0], false)
	},
}

var identityActivateCmd = &cobra.Command{
	Use:   "activate <identity>",
	Short: "Re-activate an identity (by ID or reference)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIdentitySetActive(args[0], true)
	},
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityAddCmd, identityListCmd, identitySearchCmd, identityDeactivateCmd, identityActivateCmd)

	identityAddCmd.Flags().String("ref", "", "External reference, e.g. an admission number (must be unique)")
	identityListCmd.Flags().Bool("active", false, "Only list active identities")
	identityListCmd.Flags().Bool("json", false, "Output as JSON")
	identitySearchCmd.Flags().Bool("active", false, "Only search active identities")
	identitySearchCmd.Flags().Bool("json", false, "Output as JSON")
}

func runIdentityAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	identity, err := a.registry.Create(ctx, args[0], mustGetString(cmd, "ref"))
	if err != nil {
		return err
	}
	fmt.Printf("Created identity %d: %s\n", identity.ID, identity.Name)
	return nil
}

func runIdentityList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	identities, err := a.registry.List(ctx, mustGetBool(cmd, "active"))
	if err != nil {
		return err
	}
	return a.printIdentities(ctx, identities, mustGetBool(cmd, "json"))
}

func runIdentitySearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	identities, err := a.registry.Search(ctx, args[0], mustGetBool(cmd, "active"))
	if err != nil {
		return err
	}
	return a.printIdentities(ctx, identities, mustGetBool(cmd, "json"))
}

func runIdentitySetActive(ref string, active bool) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	identity, err := a.resolveIdentity(ctx, ref)
	if err != nil {
		return err
	}
	if err := a.registry.SetActive(ctx, identity.ID, active); err != nil {
		return err
	}
	state := "deactivated"
	if active {
		state = "activated"
	}
	fmt.Printf("Identity %d (%s) %s\n", identity.ID, identity.Name, state)
	return nil
}

// identityRow is the JSON shape of a listed identity.
type identityRow struct {
	database.Identity
	Embeddings int `json:"embeddings"`
}

func (a *app) printIdentities(ctx context.Context, identities []database.Identity, asJSON bool) error {
	rows := make([]identityRow, 0, len(identities))
	for _, identity := range identities {
		count, err := a.store.CountFor(ctx, identity.ID)
		if err != nil {
			return fmt.Errorf("counting embeddings of %d: %w", identity.ID, err)
		}
		rows = append(rows, identityRow{Identity: identity, Embeddings: count})
	}

	if asJSON {
		return outputJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Println("No identities found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tREF\tACTIVE\tEMBEDDINGS")
	fmt.Fprintln(w, "--\t----\t---\t------\t----------")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%v\t%d\n", r.ID, r.Name, r.ExternalRef, r.Active, r.Embeddings)
	}
	return w.Flush()
}
