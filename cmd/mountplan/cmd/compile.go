package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/barysiuk/mountplan/internal/core"
)

var compileCmd = &cobra.Command{
	Use:   "compile <manifest.yaml>",
	Short: "Compile a profile manifest",
	Long: `Compile a single profile manifest without installing a collection.

The compiled profile is published under <share>/profiles/<id>. An id has the
form <namespace>/<name> and defaults to local/<file name without extension>.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		id, _ := cmd.Flags().GetString("id")
		configPath, _ := cmd.Flags().GetString("config")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		manifestPath := args[0]
		profileYAML, err := os.ReadFile(manifestPath)
		if err != nil {
			return fmt.Errorf("reading manifest: %w", err)
		}
		var configYAML []byte
		if configPath != "" {
			configYAML, err = os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("reading config: %w", err)
			}
		}
		if id == "" {
			base := filepath.Base(manifestPath)
			id = core.StandaloneNamespace + "/" + strings.TrimSuffix(base, filepath.Ext(base))
		}

		res, err := d.compiler.Compile(cmd.Context(), id, profileYAML, configYAML)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(res)
		}
		fmt.Fprintf(os.Stdout, "Compiled %s (%d components)\n", res.ProfileID, res.Components)
		if len(res.Behaviors) > 0 {
			fmt.Fprintf(os.Stdout, "  Behaviors: %s\n", strings.Join(res.Behaviors, ", "))
		}
		fmt.Fprintf(os.Stdout, "  Plan: %s\n", res.PlanPath)
		return nil
	},
}

func init() {
	compileCmd.Flags().String("id", "", "Profile id (default: local/<manifest name>)")
	compileCmd.Flags().String("config", "", "Config overlay YAML merged over the profile's config")
	compileCmd.Flags().Bool("json", false, "Output as JSON for scripting")
	rootCmd.AddCommand(compileCmd)
}
