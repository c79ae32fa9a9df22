// -- cmd/check.go --
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/d3xf/scenic/internal/scenario"
)

// newCheckCmd creates the `check` command, which validates scenario files
// without launching a browser.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [scenario files...]",
		Short: "Validates scenario documents without executing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := loadDocuments(args)
			if err != nil {
				return err
			}

			var failed bool
			for i, doc := range docs {
				if err := scenario.Validate(doc.BrowserActions); err != nil {
					failed = true
					var ve *scenario.ValidationError
					if errors.As(err, &ve) {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: invalid at %s: %v\n", args[i], ve.Path, err)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", args[i], err)
					}
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d actions)\n", args[i], len(doc.BrowserActions))
			}
			if failed {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}
}
