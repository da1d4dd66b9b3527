package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/assets"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/orchestrator"
)

type deploySummary struct {
	Run          string   `json:"run"`
	URL          string   `json:"url,omitempty"`
	State        string   `json:"state,omitempty"`
	Build        string   `json:"build"`
	BuildReason  string   `json:"buildReason,omitempty"`
	Uploaded     int      `json:"uploaded"`
	Unchanged    int      `json:"unchanged"`
	PlanDigest   string   `json:"planDigest,omitempty"`
	Failed       []string `json:"failed,omitempty"`
	ShadowedKeys []string `json:"shadowedEnv,omitempty"`
}

func (a *App) newDeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Build, sync and submit one deployment",
		Long: `deploy runs one pass: build, sync static and cache artifacts, package the
functions and submit the desired state. Re-running with unchanged inputs
rewrites nothing. A name whose stack was destroyed cannot be deployed again.`,
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

			store, err := openStore(ctx, e.cfg)
			if err != nil {
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
			orch, err := newOrchestrator(e.cfg, store, sub, lg, e.logger)
			if err != nil {
				return err
			}

			res, deployErr := orch.Deploy(ctx, options(e.cfg))
			if res != nil {
				if err := a.printSummary(res, deployErr); err != nil {
					return err
				}
			}
			return deployErr
		},
	}
}

func (a *App) printSummary(res *orchestrator.Result, deployErr error) error {
	s := deploySummary{
		Run:          res.RunID.String(),
		URL:          res.URL,
		State:        string(res.State),
		Build:        string(res.Build.Status),
		BuildReason:  res.Build.Reason(),
		PlanDigest:   res.Digest,
		ShadowedKeys: res.Shadowed,
	}
	for _, rep := range []*assets.Report{res.Assets, res.Cache} {
		if rep != nil {
			s.Uploaded += rep.Uploaded
			s.Unchanged += rep.Unchanged
		}
	}
	var derr *orchestrator.DeployError
	if errors.As(deployErr, &derr) {
		s.Failed = derr.Resources()
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, string(b))
	return err
}
