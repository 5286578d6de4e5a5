package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		address  string
		caller   string
		outcome  string
		since    time.Duration
		limit    int
		services bool
		service  string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled operations",
		Long: `List the operations recorded in the journal, most recent first, or
with --services the recorded service state transitions.`,
		Example: `  # Last 20 operations
  webplane history

  # Failed operations on connectors in the last hour
  webplane history --address /subsystem=web/connector=http --outcome failed --since 1h

  # Transitions of one service
  webplane history --services --service web.connector.http`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			d, err := loadDaemon()
			if err != nil {
				return err
			}
			if !d.Journal.Enabled {
				return fmt.Errorf("the journal is disabled")
			}
			store, err := stores.Open(ctx, stores.Config{Path: d.Journal.Path, Logger: commandLogger()})
			if err != nil {
				return err
			}
			defer store.Close()

			if services {
				var name *string
				if service != "" {
					name = &service
				}
				events, err := store.ListServiceEvents(ctx, name, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printStructured(out, events)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tSERVICE\tFROM\tTO\tERROR")
				for _, e := range events {
					msg := ""
					if e.Error != nil {
						msg = *e.Error
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format(time.RFC3339), e.Service, e.From, e.To, msg)
				}
				return tw.Flush()
			}

			filter := stores.OperationFilter{
				AddressPrefix: address,
				Caller:        caller,
				Outcome:       engine.Outcome(outcome),
				Limit:         limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			ops, err := store.ListOperations(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printStructured(out, ops)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tCALLER\tOUTCOME\tSTAGE\tDURATION\tCOMMAND")
			for _, op := range ops {
				who := op.Caller
				if who == "" {
					who = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					op.StartedAt.Local().Format(time.RFC3339), who, op.Outcome, op.Stage,
					op.Duration.Round(time.Microsecond), op.Command)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "only operations at or below this address")
	cmd.Flags().StringVar(&caller, "caller", "", "only operations by this caller")
	cmd.Flags().StringVar(&outcome, "outcome", "", "only operations with this outcome (success, failed, rolled-back)")
	cmd.Flags().DurationVar(&since, "since", 0, "only operations started within this duration")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries; 0 for all")
	cmd.Flags().BoolVar(&services, "services", false, "list service transitions instead of operations")
	cmd.Flags().StringVar(&service, "service", "", "with --services, only this service")

	return cmd
}
