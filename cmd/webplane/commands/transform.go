package commands

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/transform"
	"github.com/openfroyo/webplane/pkg/web"
)

func newTransformCommand() *cobra.Command {
	var (
		version  string
		resource bool
		showDiff bool
	)

	cmd := &cobra.Command{
		Use:   "transform <document>",
		Short: "Show a document as a legacy model version sees it",
		Long: `Apply a subsystem document to a model-only controller and transform
its description for a consumer at an older model version.

By default the ADD operations describing the subsystem are transformed;
discarded operations are left out and a rejected one fails the command.
With --resource the subsystem subtree is transformed instead.`,
		Example: `  # Operations as a 1.1.0 consumer receives them
  webplane transform web.cue --version 1.1.0

  # Line diff between the current and the transformed description
  webplane transform web.cue --version 1.2.0 --diff

  # Transformed subtree as YAML
  webplane transform web.cue --version 1.4.0 --resource`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			target, err := transform.ParseVersion(version)
			if err != nil {
				return err
			}

			d, err := loadDaemon()
			if err != nil {
				return err
			}
			path := d.Document
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no document given")
			}

			logger := commandLogger()
			rt, err := newRuntime(ctx, d, runtimeOptions{adminOnly: true, logger: logger})
			if err != nil {
				return err
			}
			defer rt.close(ctx)
			if _, _, err := rt.apply(ctx, path); err != nil {
				return err
			}

			registry := web.NewTransformers(transform.WithLogger(logger))

			var before, after string
			if resource {
				snap, err := rt.ctrl.Tree().Get(web.SubsystemAddress)
				if err != nil {
					return err
				}
				current, err := registry.TransformResource(registry.Current(), snap)
				if err != nil {
					return err
				}
				legacy, err := registry.TransformResource(target, snap)
				if err != nil {
					return err
				}
				if !showDiff {
					return printStructured(out, legacy.Interface())
				}
				if before, err = renderYAML(current.Interface()); err != nil {
					return err
				}
				if after, err = renderYAML(legacy.Interface()); err != nil {
					return err
				}
			} else {
				ops, err := rt.ctrl.Describe(web.SubsystemAddress)
				if err != nil {
					return err
				}
				legacy, err := registry.TransformOperations(target, ops)
				if err != nil {
					return err
				}
				if !showDiff {
					if jsonOutput {
						return printStructured(out, legacy)
					}
					fmt.Fprint(out, renderOperations(legacy))
					return nil
				}
				before, after = renderOperations(ops), renderOperations(legacy)
			}

			writeLineDiff(out, before, after)
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "target model version, e.g. 1.1.0")
	cmd.Flags().BoolVar(&resource, "resource", false, "transform the resource subtree instead of operations")
	cmd.Flags().BoolVar(&showDiff, "diff", false, "print a line diff against the current version")
	_ = cmd.MarkFlagRequired("version")

	return cmd
}

func newVersionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List the model versions operations can be transformed to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			registry := web.NewTransformers()

			legacy := make([]string, 0)
			for _, v := range registry.Versions() {
				legacy = append(legacy, v.String())
			}
			if jsonOutput {
				return printStructured(out, map[string]any{
					"current": registry.Current().String(),
					"legacy":  legacy,
				})
			}
			fmt.Fprintf(out, "current: %s\n", registry.Current())
			for _, v := range legacy {
				fmt.Fprintf(out, "legacy:  %s\n", v)
			}
			return nil
		},
	}
}

func renderOperations(ops []*engine.Operation) string {
	var b strings.Builder
	for _, op := range ops {
		b.WriteString(op.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func renderYAML(v any) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// writeLineDiff prints before and after as a unified-style line diff.
func writeLineDiff(w io.Writer, before, after string) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			fmt.Fprint(w, prefix, line)
			if !strings.HasSuffix(line, "\n") {
				fmt.Fprintln(w)
			}
		}
	}
}
