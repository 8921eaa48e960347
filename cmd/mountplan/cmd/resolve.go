package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <ref>",
	Short: "Print the local path for a source reference",
	Long: `Resolve a source reference to a local path, fetching it into the shared
cache when needed.

Supported references:
  git+<url>@<ref>[/<path>][#subdirectory=<path>]
  amp://<registry>/<path>
  <protocol>://<path>    (file, http, https)
  /absolute/local/path`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		path, err := d.resolver.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
