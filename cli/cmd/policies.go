package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/BDNK1/sagaworker/decision"
	"github.com/BDNK1/sagaworker/steps"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Print the step types with their retry budgets and the decision plan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printPolicies(cmd.OutOrStdout())
	},
}

func printPolicies(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP TYPE\tRETRIES\tDESCRIPTION")
	for _, p := range steps.Policies {
		retries := "never fails"
		if p.RetryBudget != nil {
			retries = fmt.Sprintf("%d", p.Budget())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.StepType, retries, p.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Decision plan:")
	for _, line := range decision.Plan() {
		fmt.Fprintf(out, "  %s\n", line)
	}
	return nil
}
