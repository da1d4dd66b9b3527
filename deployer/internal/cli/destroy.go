package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/assets"
)

func (a *App) newDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Withdraw the stack from the platform",
		Long: `destroy asks the reconciling platform to tear the stack down and records the
distribution as destroyed. This is final: deploy refuses a destroyed name, so
a new deployment needs a new name.`,
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
			sub, err := openSubmitter(e.cfg)
			if err != nil {
				return err
			}
			lg, closeLedger, err := openLedger(ctx, e.cfg)
			if err != nil {
				return err
			}
			defer closeLedger()
			// nothing is synced, so no object store is opened
			orch, err := newOrchestrator(e.cfg, assets.NewMemoryStore(), sub, lg, e.logger)
			if err != nil {
				return err
			}
			n := names(e.cfg)
			if err := orch.Destroy(ctx, n); err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "destroyed %s\n", n.Stack)
			return err
		},
	}
}
