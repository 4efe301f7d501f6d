package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/omni-agent/omnicore/guard"
	"github.com/omni-agent/omnicore/internal/clifmt"
	"github.com/omni-agent/omnicore/internal/pathutil"
	"github.com/omni-agent/omnicore/internal/strutil"
)

func newApprovalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Inspect resolved approval requests",
	}
	cmd.AddCommand(newApprovalsListCmd(), newApprovalsShowCmd())
	return cmd
}

func newApprovalsListCmd() *cobra.Command {
	var session string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := archiveFromViper()
			if err != nil {
				return err
			}
			defer store.Close()

			reqs, err := store.List(cmd.Context(), session, limit)
			if err != nil {
				return err
			}
			if len(reqs) == 0 {
				fmt.Println(clifmt.Dim("no archived requests"))
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tRISK\tSTATE\tCREATED\tSUMMARY")
			for _, r := range reqs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Kind, r.Tier, r.State,
					r.CreatedAt.Format("2006-01-02 15:04:05"),
					strutil.Excerpt(r.Summary, 48))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "filter by session id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to show")
	return cmd
}

func newApprovalsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one archived approval request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := archiveFromViper()
			if err != nil {
				return err
			}
			defer store.Close()

			req, ok, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no archived request %s", args[0])
			}
			printRequest(req)
			return nil
		},
	}
}

func printRequest(r guard.Request) {
	fmt.Println(clifmt.Key("id:"), r.ID)
	fmt.Println(clifmt.Key("session:"), r.SessionID)
	fmt.Println(clifmt.Key("kind:"), r.Kind)
	fmt.Println(clifmt.Key("target:"), r.Target)
	fmt.Println(clifmt.Key("risk:"), clifmt.Risk(string(r.Tier)))
	fmt.Println(clifmt.Key("state:"), r.State)
	fmt.Println(clifmt.Key("created:"), r.CreatedAt.Format("2006-01-02 15:04:05"))
	if r.ResolvedAt != nil {
		fmt.Println(clifmt.Key("resolved:"), r.ResolvedAt.Format("2006-01-02 15:04:05"))
	}
	if r.Actor != "" {
		fmt.Println(clifmt.Key("actor:"), r.Actor)
	}
	if r.Comment != "" {
		fmt.Println(clifmt.Key("comment:"), r.Comment)
	}
	if r.AutoApproved {
		fmt.Println(clifmt.Warn("auto-approved by global approval mode"))
	}
	if r.Summary != "" {
		fmt.Println(clifmt.Key("summary:"), r.Summary)
	}
}

func archiveFromViper() (guard.ArchiveStore, error) {
	dsn := pathutil.ExpandHomePath(viper.GetString("approvals.archive_dsn"))
	if dsn == "" {
		return nil, fmt.Errorf("approvals.archive_dsn is not configured")
	}
	if err := pathutil.EnsureParentDir(dsn); err != nil {
		return nil, err
	}
	return guard.NewSQLiteArchiveStore(dsn)
}
