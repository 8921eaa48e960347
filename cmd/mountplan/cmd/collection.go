package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var collectionCmd = &cobra.Command{
	Use:     "collection",
	Aliases: []string{"collections"},
	Short:   "Manage installed profile collections",
}

var collectionAddCmd = &cobra.Command{
	Use:   "add <id> <source>",
	Short: "Install a collection of profiles",
	Long: `Install a collection and register the profiles it ships.

Sources:
  git+<url>@<ref>[#subdirectory=<path>]   cloned into <share>/collections/<id>
  /absolute/path                          used in place
  amp://<registry>/<path>                 resolved through the registry table
  https://...                             downloaded into the reference cache

Profiles are read from <source>/profiles/*.yaml. A source that is a single
file is one profile. Run 'mountplan update --collection <id>' to compile.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newStoreDeps()
		if err != nil {
			return err
		}
		defer d.close()

		c, err := d.collections.Add(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		profiles, err := d.store.ListProfilesByCollection(cmd.Context(), c.CollectionID)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Added collection %s (%s, %d profiles)\n", c.CollectionID, c.SourceType, len(profiles))
		for _, p := range profiles {
			fmt.Fprintf(os.Stdout, "  - %s\n", p.ProfileID)
		}
		return nil
	},
}

var collectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed collections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newStoreDeps()
		if err != nil {
			return err
		}
		defer d.close()

		jsonOutput, _ := cmd.Flags().GetBool("json")

		collections, err := d.collections.List(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(collections)
		}
		if len(collections) == 0 {
			fmt.Fprintln(os.Stdout, "No collections installed.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tType\tCommit\tUpdated\tSource")
		for _, c := range collections {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				c.CollectionID, c.SourceType, shortStamp(c.SourceCommit), formatTime(c.LastUpdated), c.SourceLocation)
		}
		_ = w.Flush()
		return nil
	},
}

var collectionRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a collection and its compiled profiles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newStoreDeps()
		if err != nil {
			return err
		}
		defer d.close()

		if err := d.collections.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Removed collection %s\n", args[0])
		return nil
	},
}

func init() {
	collectionListCmd.Flags().Bool("json", false, "Output as JSON for scripting")

	collectionCmd.AddCommand(collectionAddCmd)
	collectionCmd.AddCommand(collectionListCmd)
	collectionCmd.AddCommand(collectionRemoveCmd)
	rootCmd.AddCommand(collectionCmd)
}
