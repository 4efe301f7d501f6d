package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omni-agent/omnicore/dispatch"
	"github.com/omni-agent/omnicore/guard"
	"github.com/omni-agent/omnicore/internal/clifmt"
)

func newInvokeCmd() *cobra.Command {
	var (
		summary string
		tier    string
		secrets []string
	)
	cmd := &cobra.Command{
		Use:   "invoke <tool> <target>",
		Short: "Run a registered tool through the approval and audit pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := unlockedCore(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			stopPrompt := promptApprovals(cmd.Context(), c)
			defer stopPrompt()

			res, err := c.coord.Invoke(cmd.Context(), dispatch.Invocation{
				Tool:        args[0],
				Target:      args[1],
				Summary:     summary,
				Tier:        guard.RiskTier(tier),
				SecretNames: secrets,
			})
			if err != nil {
				return err
			}
			fmt.Println(clifmt.Key("invocation:"), res.InvocationID)
			fmt.Println(clifmt.Key("approval:"), res.ApprovalID)
			fmt.Println(clifmt.Key("state:"), res.State)
			if res.Output != "" {
				fmt.Println(res.Output)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&summary, "summary", "", "human-readable description shown to the approver")
	cmd.Flags().StringVar(&tier, "tier", "", "raise the risk tier (low, medium, high)")
	cmd.Flags().StringSliceVar(&secrets, "secret", nil, "vault secret names to pass to the tool")

	cmd.AddCommand(&cobra.Command{
		Use:   "tools",
		Short: "List registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := coreFromViper(nil)
			if err != nil {
				return err
			}
			defer c.Close()
			for _, t := range c.registry.All() {
				fmt.Printf("%s\t%s\t%s\n", t.Name(), t.Kind(), t.RiskTier())
			}
			return nil
		},
	})
	return cmd
}
