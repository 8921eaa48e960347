package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/barysiuk/mountplan/internal/core"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Recompile profiles whose sources changed",
	Long: `Check installed collections and profiles for changes and recompile what is
stale.

A collection whose source moved on (new git commit, newer local files) is
synced first and all of its profiles are rebuilt. Other profiles are rebuilt
when their manifest changed, their compiled output is missing, or a profile
they extend or depend on changed.

One of --collection, --profile or --all is required. A failing profile never
stops the rest of the run; the command exits non-zero if anything failed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		profile, _ := cmd.Flags().GetString("profile")
		all, _ := cmd.Flags().GetBool("all")
		checkOnly, _ := cmd.Flags().GetBool("check-only")
		force, _ := cmd.Flags().GetBool("force")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		if collection == "" && profile == "" && !all {
			return fmt.Errorf("specify --collection, --profile or --all\n\nUsage:\n  mountplan update --collection <id>\n  mountplan update --profile <id>\n  mountplan update --all")
		}

		d, err := newStoreDeps()
		if err != nil {
			return err
		}
		defer d.close()

		opts := core.UpdateOptions{CheckOnly: checkOnly, Force: force}
		return runUpdate(cmd, d, collection, profile, opts, jsonOutput)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report stale collections and profiles without changing anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newStoreDeps()
		if err != nil {
			return err
		}
		defer d.close()

		jsonOutput, _ := cmd.Flags().GetBool("json")
		return runUpdate(cmd, d, "", "", core.UpdateOptions{CheckOnly: true}, jsonOutput)
	},
}

// runUpdate updates one profile, one collection or everything and prints the
// report. It fails when any item failed, after printing the full report.
func runUpdate(cmd *cobra.Command, d *deps, collection, profile string, opts core.UpdateOptions, jsonOutput bool) error {
	ctx := cmd.Context()

	var res core.UpdateAllResult
	switch {
	case profile != "":
		pr := d.updater.UpdateProfile(ctx, profile, opts)
		if jsonOutput {
			if err := printJSON(pr); err != nil {
				return err
			}
		} else {
			renderProfileResult(os.Stdout, pr)
		}
		if !pr.Success {
			return fmt.Errorf("updating %s failed", profile)
		}
		return nil

	case collection != "":
		cr := d.updater.UpdateCollection(ctx, collection, opts)
		res = core.UpdateAllResult{Success: cr.Success, Collections: []core.CollectionUpdateResult{cr}}
		for _, p := range cr.Profiles {
			switch {
			case !p.Success:
				res.Failed++
			case p.Action == core.ActionCompiled:
				res.Compiled++
			case p.Action == core.ActionUpToDate:
				res.UpToDate++
			}
		}

	default:
		res = d.updater.UpdateAll(ctx, opts)
	}

	if jsonOutput {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		if len(res.Collections) == 0 {
			fmt.Fprintln(os.Stdout, "No collections installed.")
		}
		for _, c := range res.Collections {
			renderCollectionResult(os.Stdout, c)
		}
		renderSummary(os.Stdout, res)
	}
	if !res.Success {
		return fmt.Errorf("update finished with %d failed profile(s)", res.Failed)
	}
	return nil
}

func init() {
	updateCmd.Flags().String("collection", "", "Update one collection")
	updateCmd.Flags().String("profile", "", "Update one profile")
	updateCmd.Flags().Bool("all", false, "Update every installed collection")
	updateCmd.Flags().Bool("check-only", false, "Report what would change without doing it")
	updateCmd.Flags().Bool("force", false, "Rebuild even when nothing changed")
	updateCmd.Flags().Bool("json", false, "Output as JSON for scripting")
	updateCmd.MarkFlagsMutuallyExclusive("collection", "profile", "all")

	checkCmd.Flags().Bool("json", false, "Output as JSON for scripting")

	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(checkCmd)
}
