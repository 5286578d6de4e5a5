package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/webplane/pkg/engine"
)

// execResult is the printed outcome of one operation.
type execResult struct {
	Operation       string         `json:"operation" yaml:"operation"`
	ID              string         `json:"id" yaml:"id"`
	Outcome         engine.Outcome `json:"outcome" yaml:"outcome"`
	Stage           engine.Stage   `json:"stage" yaml:"stage"`
	Response        any            `json:"response,omitempty" yaml:"response,omitempty"`
	Compensation    string         `json:"compensation,omitempty" yaml:"compensation,omitempty"`
	RestartRequired bool           `json:"restart_required,omitempty" yaml:"restart_required,omitempty"`
	ReloadRequired  bool           `json:"reload_required,omitempty" yaml:"reload_required,omitempty"`
	Error           string         `json:"error,omitempty" yaml:"error,omitempty"`
}

func newExecCommand() *cobra.Command {
	var (
		document string
		opsFile  string
		user     string
		roles    []string
		verify   bool
		timeout  time.Duration
		live     bool
	)

	cmd := &cobra.Command{
		Use:   "exec [operation...]",
		Short: "Execute management operations",
		Long: `Execute management operations written in command syntax against a
controller booted from a subsystem document.

Operations run as the caller given with --user and --role and are checked
against the access policies. Mutating operations are journaled when the
journal is enabled. Execution stops at the first failure.`,
		Example: `  # Change the scheme of a connector
  webplane exec --document web.cue \
    '/subsystem=web/connector=http:write-attribute(name=scheme,value=https)'

  # Run as an operator, starting services and waiting for them
  webplane exec -d web.cue --user bob --role Operator --runtime --verify \
    '/subsystem=web/virtual-server=other:add(alias=["example.com"])'

  # Read operations from a file, one per line
  webplane exec -d web.cue --file ops.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			lines := append([]string{}, args...)
			if opsFile != "" {
				fromFile, err := readOperationLines(opsFile)
				if err != nil {
					return err
				}
				lines = append(lines, fromFile...)
			}
			if len(lines) == 0 {
				return fmt.Errorf("no operations given")
			}
			ops := make([]*engine.Operation, len(lines))
			for i, l := range lines {
				op, err := engine.ParseOperation(l)
				if err != nil {
					return err
				}
				op.Headers.Caller = engine.Caller{User: user, Roles: roles}
				op.Headers.Verify = verify
				op.Headers.VerifyTimeout = timeout
				ops[i] = op
			}

			d, err := loadDaemon()
			if err != nil {
				return err
			}
			if document == "" {
				document = d.Document
			}

			rt, err := newRuntime(ctx, d, runtimeOptions{
				adminOnly: !live,
				authorize: true,
				journal:   true,
				logger:    commandLogger(),
			})
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			if document != "" {
				if _, _, err := rt.apply(ctx, document); err != nil {
					return err
				}
			}

			var results []execResult
			var failure error
			for _, op := range ops {
				res, err := rt.ctrl.Execute(ctx, op)
				r := execResult{Operation: op.String(), ID: op.ID.String()}
				if res != nil {
					r.Outcome = res.Outcome
					r.Stage = res.Stage
					if res.Response.IsDefined() {
						r.Response = res.Response.Interface()
					}
					if res.Compensation != nil {
						r.Compensation = res.Compensation.String()
					}
					r.RestartRequired = res.RestartRequired
					r.ReloadRequired = res.ReloadRequired
				}
				if err != nil {
					r.Error = err.Error()
					failure = fmt.Errorf("%s failed: %w", op, err)
				}
				results = append(results, r)
				if failure != nil {
					break
				}
			}

			if err := printStructured(out, results); err != nil {
				return err
			}
			return failure
		},
	}

	cmd.Flags().StringVarP(&document, "document", "d", "", "subsystem document applied before the operations")
	cmd.Flags().StringVarP(&opsFile, "file", "f", "", "file with one operation per line")
	cmd.Flags().StringVar(&user, "user", "", "caller name; empty runs as the server itself")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "caller roles")
	cmd.Flags().BoolVar(&verify, "verify", false, "wait for touched services to settle")
	cmd.Flags().DurationVar(&timeout, "verify-timeout", 0, "verify stage timeout")
	cmd.Flags().BoolVar(&live, "runtime", false, "run the runtime stage against the in-memory container")

	return cmd
}

// readOperationLines reads non-empty lines that are not # comments.
func readOperationLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return out, nil
}
