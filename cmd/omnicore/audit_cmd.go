package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/omni-agent/omnicore/audit"
	"github.com/omni-agent/omnicore/internal/strutil"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit trail",
	}
	cmd.AddCommand(newAuditQueryCmd(), newAuditTailCmd())
	return cmd
}

func newAuditTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			auditor, err := auditorFromViper()
			if err != nil {
				return err
			}
			defer auditor.Close()

			events, err := auditor.Query(cmd.Context(), audit.Filter{})
			if err != nil {
				return err
			}
			if n > 0 && len(events) > n {
				events = events[len(events)-n:]
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, e := range events {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					e.Seq, e.Timestamp.Format("15:04:05"),
					e.Actor, e.Action, e.Outcome,
					strutil.Excerpt(e.Target, 48))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of trailing events")
	return cmd
}

func newAuditQueryCmd() *cobra.Command {
	var (
		since   string
		until   string
		action  string
		outcome string
		limit   int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List audit events, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := audit.Filter{
				Action:  action,
				Outcome: audit.Outcome(outcome),
				Limit:   limit,
			}
			var err error
			if f.Since, err = parseEventTime(since); err != nil {
				return err
			}
			if f.Until, err = parseEventTime(until); err != nil {
				return err
			}

			auditor, err := auditorFromViper()
			if err != nil {
				return err
			}
			defer auditor.Close()

			events, err := auditor.Query(cmd.Context(), f)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				for _, e := range events {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tTIME\tACTOR\tACTION\tOUTCOME\tTARGET")
			for _, e := range events {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					e.Seq, e.Timestamp.Format("2006-01-02 15:04:05"),
					e.Actor, e.Action, e.Outcome,
					strutil.Excerpt(e.Target, 48))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only events at or after this time (RFC3339 or 2006-01-02)")
	cmd.Flags().StringVar(&until, "until", "", "only events at or before this time (RFC3339 or 2006-01-02)")
	cmd.Flags().StringVar(&action, "action", "", "filter by action name")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many events (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit raw JSON lines")
	return cmd
}

func parseEventTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
