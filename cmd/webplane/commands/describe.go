package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/web"
)

func newDescribeCommand() *cobra.Command {
	var (
		address string
		asModel bool
	)

	cmd := &cobra.Command{
		Use:   "describe <document>",
		Short: "Describe the resources a document produces",
		Long: `Apply a subsystem document to a model-only controller and print the
ADD operations that rebuild the resulting subtree, parents first.

With --model the subtree is printed as a nested object instead.`,
		Example: `  # Describe the whole subsystem
  webplane describe web.cue

  # Describe one connector as YAML
  webplane describe web.cue --address /subsystem=web/connector=http --model`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			d, err := loadDaemon()
			if err != nil {
				return err
			}
			path := d.Document
			if len(args) > 0 {
				path = args[0]
			}

			addr, err := model.ParseAddress(address)
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, d, runtimeOptions{adminOnly: true, logger: commandLogger()})
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			if path != "" {
				if _, _, err := rt.apply(ctx, path); err != nil {
					return err
				}
			}

			if asModel {
				snap, err := rt.ctrl.Tree().Get(addr)
				if err != nil {
					return err
				}
				v, err := web.NewTransformers().TransformResource(web.CurrentVersion, snap)
				if err != nil {
					return err
				}
				return printStructured(out, v.Interface())
			}

			ops, err := rt.ctrl.Describe(addr)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printStructured(out, ops)
			}
			for _, op := range ops {
				fmt.Fprintln(out, op)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", web.SubsystemAddress.String(), "address of the subtree to describe")
	cmd.Flags().BoolVar(&asModel, "model", false, "print the subtree as a nested object")

	return cmd
}
