package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/webplane/pkg/config"
)

func newValidateCommand() *cobra.Command {
	var printSchema bool

	cmd := &cobra.Command{
		Use:   "validate <document>",
		Short: "Validate a subsystem document",
		Long: `Validate a CUE, JSON or HCL subsystem document.

This command checks:
  - document syntax
  - attributes and child resources against the resource definitions
  - the model constraints of every ADD, by applying the document to a
    model-only controller`,
		Example: `  # Validate a CUE document
  webplane validate web.cue

  # Print the generated CUE schema
  webplane validate --print-schema`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			d, err := loadDaemon()
			if err != nil {
				return err
			}
			rt, err := newRuntime(ctx, d, runtimeOptions{adminOnly: true, logger: commandLogger()})
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			if printSchema {
				fmt.Fprint(out, config.GenerateSchema(rt.root))
				return nil
			}

			path := d.Document
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no document given")
			}

			doc, _, err := rt.apply(ctx, path)
			var perr *config.ParseError
			if errors.As(err, &perr) {
				if jsonOutput {
					_ = printStructured(out, perr.Errors)
				} else {
					for _, e := range perr.Errors {
						fmt.Fprintf(out, "%s: %s\n", e.Severity, e)
					}
				}
				return fmt.Errorf("%s is invalid: %d problems", path, len(perr.Errors))
			}
			if err != nil {
				return err
			}

			ops := doc.Operations()
			if jsonOutput {
				return printStructured(out, map[string]any{
					"document":   path,
					"valid":      true,
					"operations": len(ops),
				})
			}
			fmt.Fprintf(out, "%s is valid: %d resources\n", path, len(ops))
			return nil
		},
	}

	cmd.Flags().BoolVar(&printSchema, "print-schema", false, "print the CUE schema documents are checked against")

	return cmd
}
