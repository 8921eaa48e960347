package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/barysiuk/mountplan/internal/core"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	Aliases: []string{"profiles"},
	Short:   "Inspect registered profiles",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered profiles and when they were last compiled",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newStoreDeps()
		if err != nil {
			return err
		}
		defer d.close()

		jsonOutput, _ := cmd.Flags().GetBool("json")
		collection, _ := cmd.Flags().GetString("collection")

		var profiles []core.ProfileMetadata
		if collection != "" {
			profiles, err = d.store.ListProfilesByCollection(cmd.Context(), collection)
		} else {
			profiles, err = d.store.ListProfiles(cmd.Context())
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(profiles)
		}
		if len(profiles) == 0 {
			fmt.Fprintln(os.Stdout, "No profiles registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Profile\tBuilt\tDepends on\tPath")
		for _, p := range profiles {
			var on []string
			for _, dep := range p.Dependencies {
				on = append(on, dep.DependencyProfileID)
			}
			dependsOn := joinStrings(on)
			if dependsOn == "" {
				dependsOn = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ProfileID, formatTime(p.CacheBuilt), dependsOn, p.CachePath)
		}
		_ = w.Flush()
		return nil
	},
}

// joinStrings concatenates string slices with ", " separator.
func joinStrings(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += ", " + s
	}
	return result
}

func init() {
	profileListCmd.Flags().Bool("json", false, "Output as JSON for scripting")
	profileListCmd.Flags().String("collection", "", "Only list profiles of this collection")

	profileCmd.AddCommand(profileListCmd)
	rootCmd.AddCommand(profileCmd)
}
