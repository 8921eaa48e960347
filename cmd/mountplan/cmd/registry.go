package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/barysiuk/mountplan/internal/core/ref"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Manage amp:// registries",
	Long: `Registries map the id in amp://<id>/<path> to a base reference.

The built-in table can be extended or overridden in config.json:

  "registries": [
    {"id": "team", "uri": "git+https://github.com/acme/modules@main"}
  ]`,
}

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known registries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		registries := d.registry.List()
		if jsonOutput {
			return printJSON(registries)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tURI\tDescription")
		for _, r := range registries {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.URI, r.Description)
		}
		_ = w.Flush()
		return nil
	},
}

var registryAddCmd = &cobra.Command{
	Use:   "add <id> <uri>",
	Short: "Add or replace a registry in the config",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		description, _ := cmd.Flags().GetString("description")
		entry := ref.Registry{ID: args[0], URI: args[1], Description: description}

		replaced := false
		for i, r := range d.cfg.Registries {
			if r.ID == entry.ID {
				d.cfg.Registries[i] = entry
				replaced = true
			}
		}
		if !replaced {
			d.cfg.Registries = append(d.cfg.Registries, entry)
		}
		if err := d.config.Save(d.cfg); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Registry %s -> %s\n", entry.ID, entry.URI)
		return nil
	},
}

var registryRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a registry from the config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		kept := d.cfg.Registries[:0]
		for _, r := range d.cfg.Registries {
			if r.ID != args[0] {
				kept = append(kept, r)
			}
		}
		if len(kept) == len(d.cfg.Registries) {
			return fmt.Errorf("registry %q is not in %s", args[0], d.config.ConfigPath())
		}
		d.cfg.Registries = kept
		if err := d.config.Save(d.cfg); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Removed registry %s\n", args[0])
		return nil
	},
}

func init() {
	registryListCmd.Flags().Bool("json", false, "Output as JSON for scripting")
	registryAddCmd.Flags().String("description", "", "Registry description")

	registryCmd.AddCommand(registryListCmd)
	registryCmd.AddCommand(registryAddCmd)
	registryCmd.AddCommand(registryRemoveCmd)
	rootCmd.AddCommand(registryCmd)
}
