package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/schoolist/edgeservice/internal/auth"
)

var (
	policyAuthorities   []string
	policyAuthenticated bool
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the path authorization table",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configured rules in evaluation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := cfg.PolicyTable()
		if err != nil {
			return err
		}
		return printRules(os.Stdout, table)
	},
}

var policyCheckCmd = &cobra.Command{
	Use:   "check <path>",
	Short: "Evaluate the table for a request path",
	Long: `Evaluates the configured table for a path as the edge service would.
Passing --authority implies an authenticated caller.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := cfg.PolicyTable()
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, describeDecision(table, args[0], policyAuthorities, policyAuthenticated))
		return nil
	},
}

func printRules(out io.Writer, table *auth.PolicyTable) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPATTERN\tREQUIREMENT")
	for i, rule := range table.Rules() {
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, rule.Pattern, rule.Requirement)
	}
	return w.Flush()
}

// describeDecision renders the outcome of one evaluation, e.g.
// "/dashboard/x: allow (rule /dashboard/** hasAuthority(ROLE_user))".
func describeDecision(table *auth.PolicyTable, path string, authorities []string, authenticated bool) string {
	set := auth.AuthoritySetFromStrings(authorities)
	authenticated = authenticated || set.Len() > 0
	decision := table.Authorize(path, set, authenticated)

	rule, ok := table.Match(path)
	if !ok {
		return fmt.Sprintf("%s: %s (no rule matched, authentication required)", path, decision)
	}
	desc := fmt.Sprintf("%s: %s (rule %s %s)", path, decision, rule.Pattern, rule.Requirement)
	if decision == auth.Deny && !authenticated {
		desc += "; anonymous callers are sent to login"
	}
	return desc
}

func init() {
	policyCheckCmd.Flags().StringSliceVar(&policyAuthorities, "authority", nil, "Authority held by the caller (repeatable), e.g. ROLE_user")
	policyCheckCmd.Flags().BoolVar(&policyAuthenticated, "authenticated", false, "Evaluate as an authenticated caller")

	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyCheckCmd)
}
