// Package orchestrator runs one deployment pass: build, artifact sync, code
// packaging, desired-state assembly and a single submission to the
// reconciling platform.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/assets"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/build"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/compute"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/edge"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/ledger"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/plan"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/resource"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/revalidation"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/routing"
)

// Options describe one deployment.
type Options struct {
	Names      resource.Names
	SourcePath string
	// BuildCommand overrides the default build. A non-nil empty command
	// disables the build.
	BuildCommand *string
	Environment  map[string]string
}

func (o Options) command() string {
	if o.BuildCommand == nil {
		return build.DefaultCommand
	}
	return *o.BuildCommand
}

type Config struct {
	Store     assets.ObjectStore
	Submitter plan.Submitter
	Ledger    ledger.Ledger
	Builder   *build.Runner
	Sync      assets.Options
	Logger    hclog.Logger
}

type Orchestrator struct {
	store     assets.ObjectStore
	submitter plan.Submitter
	ledger    ledger.Ledger
	builder   *build.Runner
	sync      assets.Options
	logger    hclog.Logger
	tracer    trace.Tracer
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Submitter == nil {
		return nil, fmt.Errorf("submitter required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	lg := cfg.Ledger
	if lg == nil {
		lg = ledger.NewMemoryLedger()
	}
	builder := cfg.Builder
	if builder == nil {
		builder = build.NewRunner(build.Config{Logger: logger})
	}
	syncOpts := cfg.Sync
	syncOpts.Logger = logger
	return &Orchestrator{
		store:     cfg.Store,
		submitter: cfg.Submitter,
		ledger:    lg,
		builder:   builder,
		sync:      syncOpts,
		logger:    logger.Named("orchestrator"),
		tracer:    otel.Tracer("deployer/orchestrator"),
	}, nil
}

// Result is everything one pass produced. URL is empty until the platform
// reports the distribution domain.
type Result struct {
	RunID     uuid.UUID
	Build     build.Outcome
	Assets    *assets.Report
	Cache     *assets.Report
	Packages  map[compute.UnitName]compute.Package
	Shadowed  []string
	Routes    routing.Table
	Desired   *plan.DesiredState
	Digest    string
	Submitted *plan.Result
	State     edge.State
	URL       string
}

// Records returns the object records of both synced namespaces.
func (r *Result) Records() []assets.ObjectRecord {
	var out []assets.ObjectRecord
	for _, rep := range []*assets.Report{r.Assets, r.Cache} {
		if rep != nil {
			out = append(out, rep.Records...)
		}
	}
	return out
}

// Deploy runs one pass. Build failures never abort it. Sync failures are
// collected and the pass continues; a desired state that cannot be
// assembled or is rejected by the platform ends it. Every failure is
// reported in a *DeployError next to a Result holding what did succeed.
func (o *Orchestrator) Deploy(ctx context.Context, opts Options) (*Result, error) {
	names := opts.Names
	if err := names.Validate(); err != nil {
		return nil, err
	}
	ctx, span := o.tracer.Start(ctx, "deploy", trace.WithAttributes(attribute.String("deploy.name", names.Stack)))
	defer span.End()
	logger := o.logger.With("name", names.Stack)

	run, err := o.ledger.BeginRun(ctx, names.Stack)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	res := &Result{RunID: run.ID, Routes: routing.DefaultTable()}
	var failures []ResourceFailure
	finish := func(deployErr error) (*Result, error) {
		o.finishRun(ctx, names.Stack, res, failures, deployErr)
		if deployErr != nil {
			span.RecordError(deployErr)
			span.SetStatus(codes.Error, "deploy failed")
		}
		return res, deployErr
	}

	res.Build = o.runBuild(ctx, opts)
	root := res.Build.OutputDir

	lc, err := o.restoreLifecycle(ctx, names.Stack)
	if err != nil {
		return finish(err)
	}
	if lc.Terminal() {
		return finish(fmt.Errorf("distribution %s: %w", names.DistributionID(), ErrDestroyed))
	}

	pkgs, syncFailures, pkgFailures := o.syncAndPackage(ctx, names, root, res)
	res.Packages = pkgs
	failures = append(failures, syncFailures...)
	failures = append(failures, pkgFailures...)
	if len(pkgFailures) > 0 {
		return finish(&DeployError{Failures: failures})
	}

	ds, err := o.assemble(ctx, names, opts.Environment, pkgs, res)
	if err != nil {
		failures = append(failures, provisioningFailure(err))
		return finish(&DeployError{Failures: failures})
	}
	res.Desired = ds

	if err := lc.Submit(); err != nil {
		return finish(fmt.Errorf("distribution %s: %w", names.DistributionID(), err))
	}
	submitted, err := o.submit(ctx, ds)
	if err != nil {
		failures = append(failures, submitFailures(names, err)...)
		res.State = lc.State()
		return finish(&DeployError{Failures: failures})
	}
	res.Submitted = submitted
	for _, re := range submitted.Errors {
		failures = append(failures, ResourceFailure{
			Resource: re.Resource,
			Err:      &plan.ProvisioningError{Resource: re.Resource, Err: errors.New(re.Message)},
		})
	}
	if err := lc.Observe(submitted.Status); err != nil {
		return finish(err)
	}
	res.State = lc.State()

	if url, ok := ds.Distribution.PublicURL(submitted.Outputs); ok {
		res.URL = url
		logger.Info("deployment reachable", "url", url)
	} else {
		logger.Info("distribution not converged yet", "status", submitted.Status, "state", res.State)
	}

	if len(failures) > 0 {
		return finish(&DeployError{Failures: failures})
	}
	return finish(nil)
}

// Destroy withdraws the stack from the platform and records the distribution
// as destroyed. It requires a submitter that implements plan.Destroyer. A
// destroyed name cannot be deployed again.
func (o *Orchestrator) Destroy(ctx context.Context, names resource.Names) error {
	if err := names.Validate(); err != nil {
		return err
	}
	d, ok := o.submitter.(plan.Destroyer)
	if !ok {
		return fmt.Errorf("submitter cannot destroy stacks")
	}
	ctx, span := o.tracer.Start(ctx, "destroy", trace.WithAttributes(attribute.String("deploy.name", names.Stack)))
	defer span.End()

	lc, err := o.restoreLifecycle(ctx, names.Stack)
	if err != nil {
		return err
	}
	if err := lc.Destroy(); err != nil {
		return fmt.Errorf("distribution %s: %w", names.DistributionID(), err)
	}
	if err := d.Destroy(ctx, names.Stack); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "destroy failed")
		return err
	}
	if err := o.ledger.SetDistributionState(ctx, names.Stack, lc.State()); err != nil {
		return fmt.Errorf("save distribution state: %w", err)
	}
	o.logger.Info("stack destroyed", "name", names.Stack)
	return nil
}

// Plan assembles the desired state for an already built tree without
// writing anything.
func (o *Orchestrator) Plan(ctx context.Context, opts Options) (*plan.DesiredState, error) {
	names := opts.Names
	if err := names.Validate(); err != nil {
		return nil, err
	}
	root := o.builder.OutputPath(opts.SourcePath)
	pkgs, failures := packageUnits(root)
	if len(failures) > 0 {
		return nil, &DeployError{Failures: failures}
	}
	return o.assemble(ctx, names, opts.Environment, pkgs, &Result{})
}

func (o *Orchestrator) runBuild(ctx context.Context, opts Options) build.Outcome {
	ctx, span := o.tracer.Start(ctx, "build")
	defer span.End()
	out := o.builder.Run(ctx, opts.command(), opts.SourcePath)
	span.SetAttributes(attribute.String("build.status", string(out.Status)))
	if out.Status == build.FailedNonFatal {
		span.SetStatus(codes.Error, out.Reason())
	}
	return out
}

func (o *Orchestrator) restoreLifecycle(ctx context.Context, name string) (*edge.Lifecycle, error) {
	state, err := o.ledger.DistributionState(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load distribution state: %w", err)
	}
	lc, err := edge.RestoreLifecycle(state)
	if err != nil {
		return nil, fmt.Errorf("restore distribution lifecycle: %w", err)
	}
	return lc, nil
}

// syncAndPackage syncs both namespaces and uploads the code packages
// concurrently. Sync and packaging failures are returned separately since
// only the latter stop the pass.
func (o *Orchestrator) syncAndPackage(ctx context.Context, names resource.Names, root string, res *Result) (map[compute.UnitName]compute.Package, []ResourceFailure, []ResourceFailure) {
	ctx, span := o.tracer.Start(ctx, "sync")
	defer span.End()

	syncOpts := o.sync
	syncOpts.Name = names.Stack
	syncer := assets.NewSynchronizer(o.store, syncOpts)

	var (
		mu       sync.Mutex
		failures []ResourceFailure
		pkgs     map[compute.UnitName]compute.Package
		pkgFails []ResourceFailure
	)
	record := func(prefix string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, ResourceFailure{Resource: names.BucketID() + "/" + prefix, Err: err})
	}

	var g errgroup.Group
	g.Go(func() error {
		rep, err := syncer.Sync(ctx, filepath.Join(root, assets.PrefixAssets), assets.PrefixAssets)
		res.Assets = rep
		if err != nil {
			record(assets.PrefixAssets, err)
		}
		return nil
	})
	g.Go(func() error {
		rep, err := syncer.Sync(ctx, filepath.Join(root, assets.PrefixCache), assets.PrefixCache)
		res.Cache = rep
		if err != nil {
			record(assets.PrefixCache, err)
		}
		return nil
	})
	g.Go(func() error {
		pkgs, pkgFails = packageUnits(root)
		for u, pkg := range pkgs {
			uploaded, err := uploadPackage(ctx, o.store, pkg)
			if err != nil {
				pkgFails = append(pkgFails, ResourceFailure{Resource: string(u), Err: err})
				delete(pkgs, u)
				continue
			}
			o.logger.Debug("code package", "unit", u, "key", pkg.Key(), "uploaded", uploaded)
		}
		return nil
	})
	_ = g.Wait()

	for i := range pkgFails {
		pkgFails[i] = ResourceFailure{
			Resource: names.Function(pkgFails[i].Resource),
			Err:      &plan.ProvisioningError{Resource: names.Function(pkgFails[i].Resource), Err: pkgFails[i].Err},
		}
	}
	if len(failures)+len(pkgFails) > 0 {
		span.SetStatus(codes.Error, "sync failures")
	}
	return pkgs, failures, pkgFails
}

func (o *Orchestrator) assemble(ctx context.Context, names resource.Names, env map[string]string, pkgs map[compute.UnitName]compute.Package, res *Result) (*plan.DesiredState, error) {
	_, span := o.tracer.Start(ctx, "assemble")
	defer span.End()

	set := compute.Units(compute.Bindings{
		Names:       names,
		AssetPrefix: assets.PrefixAssets,
		CachePrefix: assets.PrefixCache,
	}, env)
	if len(set.Shadowed) > 0 {
		o.logger.Debug("environment keys replaced by required bindings", "keys", set.Shadowed)
	}
	res.Shadowed = set.Shadowed
	for i, u := range set.Units {
		if pkg, ok := pkgs[u.Name]; ok {
			set.Units[i].Code = compute.Code{Key: pkg.Key(), Digest: pkg.Digest}
		}
	}

	server, _ := set.Get(compute.UnitServer)
	image, _ := set.Get(compute.UnitImage)
	reval, _ := set.Get(compute.UnitRevalidation)

	table := routing.DefaultTable()
	res.Routes = table
	dist, err := edge.Assemble(edge.Inputs{
		Names:       names,
		Table:       table,
		Server:      server,
		Image:       image,
		AssetPrefix: assets.PrefixAssets,
	})
	if err != nil {
		return nil, &plan.ProvisioningError{Resource: names.DistributionID(), Err: err}
	}

	ds := plan.New(names, set.Units, revalidation.Pipeline(names, reval), dist)
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	digest, err := ds.Digest()
	if err != nil {
		return nil, fmt.Errorf("digest desired state: %w", err)
	}
	res.Digest = digest
	span.SetAttributes(attribute.String("plan.digest", digest))
	return ds, nil
}

func (o *Orchestrator) submit(ctx context.Context, ds *plan.DesiredState) (*plan.Result, error) {
	ctx, span := o.tracer.Start(ctx, "submit")
	defer span.End()
	res, err := o.submitter.Submit(ctx, ds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("plan.status", res.Status))
	return res, nil
}

func (o *Orchestrator) finishRun(ctx context.Context, name string, res *Result, failures []ResourceFailure, deployErr error) {
	if err := o.ledger.RecordObjects(ctx, res.RunID, res.Records()); err != nil {
		o.logger.Warn("record objects", "error", err)
	}
	out := ledger.Outcome{Status: ledger.RunSucceeded, URL: res.URL, PlanDigest: res.Digest}
	switch {
	case deployErr == nil:
	case res.Submitted != nil:
		out.Status = ledger.RunPartial
	default:
		out.Status = ledger.RunFailed
	}
	if deployErr != nil {
		out.Error = deployErr.Error()
	}
	for _, f := range failures {
		out.FailedResources = append(out.FailedResources, f.Resource)
	}
	if err := o.ledger.FinishRun(ctx, res.RunID, out); err != nil {
		o.logger.Warn("finish run", "run", res.RunID, "error", err)
	}
	if res.State != "" {
		if err := o.ledger.SetDistributionState(ctx, name, res.State); err != nil {
			o.logger.Warn("save distribution state", "error", err)
		}
	}
}

func provisioningFailure(err error) ResourceFailure {
	var pe *plan.ProvisioningError
	if errors.As(err, &pe) {
		return ResourceFailure{Resource: pe.Resource, Err: err}
	}
	return ResourceFailure{Resource: "desired-state", Err: err}
}

// submitFailures expands a rejection into one failure per reported resource.
func submitFailures(names resource.Names, err error) []ResourceFailure {
	var rejected *plan.RejectedError
	if errors.As(err, &rejected) && len(rejected.Errors) > 0 {
		out := make([]ResourceFailure, 0, len(rejected.Errors))
		for _, re := range rejected.Errors {
			out = append(out, ResourceFailure{
				Resource: re.Resource,
				Err:      &plan.ProvisioningError{Resource: re.Resource, Err: err},
			})
		}
		return out
	}
	return []ResourceFailure{{
		Resource: names.Stack,
		Err:      &plan.ProvisioningError{Resource: names.Stack, Err: err},
	}}
}
