package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/assets"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/ledger"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/plan"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/routing"
)

func (a *App) newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the desired state for an already built app without writing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := a.setup()
			if err != nil {
				return err
			}
			defer e.close(ctx)
			if err := e.cfg.ValidateDeploy(); err != nil {
				return err
			}
			orch, err := newOrchestrator(e.cfg, assets.NewMemoryStore(), plan.NewFileSubmitter(e.cfg.PlanDir), ledger.NewMemoryLedger(), e.logger)
			if err != nil {
				return err
			}
			ds, err := orch.Plan(ctx, options(e.cfg))
			if err != nil {
				return err
			}
			doc, err := ds.Document()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.stdout, string(doc))
			return err
		},
	}
}

func (a *App) newRoutesCmd() *cobra.Command {
	var (
		asJSON bool
		match  string
	)
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the ordered edge routing table",
		RunE: func(cmd *cobra.Command, args []string) error {
			table := routing.DefaultTable()
			if err := table.Validate(); err != nil {
				return err
			}
			if match != "" {
				rule, idx := table.Match(match)
				fmt.Fprintf(a.stdout, "%s -> #%d %s (%s)\n", match, idx+1, displayPattern(rule), rule.Origin)
				return nil
			}
			if asJSON {
				b, err := json.MarshalIndent(table, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(a.stdout, string(b))
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tPATTERN\tORIGIN\tMETHODS\tCACHE\tTRANSFORM")
			for i, r := range table {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i+1, displayPattern(r), r.Origin,
					strings.Join(r.AllowedMethods, ","), r.CachePolicy, r.RequestTransform)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the table as JSON")
	cmd.Flags().StringVar(&match, "match", "", "print the rule a request path resolves to")
	return cmd
}

func displayPattern(r routing.Rule) string {
	if r.IsDefault() {
		return "(default)"
	}
	return r.PathPattern
}
