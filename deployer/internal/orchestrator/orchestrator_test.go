package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/assets"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/build"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/compute"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/edge"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/ledger"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/plan"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/resource"
)

type fakeSubmitter struct {
	submit func(ctx context.Context, ds *plan.DesiredState) (*plan.Result, error)
}

func (f fakeSubmitter) Submit(ctx context.Context, ds *plan.DesiredState) (*plan.Result, error) {
	return f.submit(ctx, ds)
}

// failingStore rejects writes for keys containing bad.
type failingStore struct {
	*assets.MemoryStore
	bad string
}

func (s failingStore) Put(ctx context.Context, in assets.PutInput) (assets.ObjectInfo, error) {
	if strings.Contains(in.Key, s.bad) {
		return assets.ObjectInfo{}, errors.New("access denied")
	}
	return s.MemoryStore.Put(ctx, in)
}

func skipBuild() *string {
	empty := ""
	return &empty
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// sourceTree lays out a built app with function bundles and the given assets.
func sourceTree(t *testing.T, files map[string]string) string {
	t.Helper()
	src := t.TempDir()
	out := filepath.Join(src, build.DefaultOutputDir)
	for _, u := range compute.AllUnits() {
		writeFile(t, out, compute.BundleDir(u)+"/index.mjs", "export const handler = () => '"+string(u)+"'")
	}
	require.NoError(t, os.MkdirAll(filepath.Join(out, assets.PrefixAssets), 0o755))
	for rel, content := range files {
		writeFile(t, filepath.Join(out, assets.PrefixAssets), rel, content)
	}
	return src
}

type harness struct {
	store  *assets.MemoryStore
	files  *plan.FileSubmitter
	ledger *ledger.MemoryLedger
	orch   *Orchestrator
	opts   Options
}

func newHarness(t *testing.T, src string) *harness {
	t.Helper()
	h := &harness{
		store:  assets.NewMemoryStore(),
		files:  plan.NewFileSubmitter(t.TempDir()),
		ledger: ledger.NewMemoryLedger(),
	}
	orch, err := New(Config{Store: h.store, Submitter: h.files, Ledger: h.ledger})
	require.NoError(t, err)
	h.orch = orch
	h.opts = Options{
		Names:        resource.NewNames("shop", "", "us-east-1", "123456789012"),
		SourcePath:   src,
		BuildCommand: skipBuild(),
	}
	return h
}

func assetObjects(t *testing.T, store assets.ObjectStore) []assets.ObjectInfo {
	t.Helper()
	objs, err := store.List(context.Background(), assets.PrefixAssets+"/")
	require.NoError(t, err)
	return objs
}

func TestDeployEmptyArtifactTree(t *testing.T) {
	h := newHarness(t, sourceTree(t, nil))

	res, err := h.orch.Deploy(context.Background(), h.opts)
	require.NoError(t, err)
	assert.Equal(t, build.Skipped, res.Build.Status)
	assert.Empty(t, assetObjects(t, h.store))
	assert.Zero(t, res.Assets.Uploaded)

	require.Len(t, res.Routes, 8)
	require.NoError(t, res.Routes.Validate())
	for i, r := range res.Routes[:7] {
		assert.False(t, r.IsDefault(), "rule %d", i)
	}
	assert.True(t, res.Routes[7].IsDefault())
	assert.Len(t, res.Desired.Distribution.Behaviors, 7)

	assert.Equal(t, plan.StatusPending, res.Submitted.Status)
	assert.Equal(t, edge.StateProvisioning, res.State)
	assert.Empty(t, res.URL)
	_, err = os.Stat(h.files.DesiredPath("shop"))
	require.NoError(t, err)
}

func TestDeployWritesVersionedAndUnversionedObjects(t *testing.T) {
	h := newHarness(t, sourceTree(t, map[string]string{
		"index.html":            "<html></html>",
		"_next/static/chunk.js": "console.log(1)",
	}))

	res, err := h.orch.Deploy(context.Background(), h.opts)
	require.NoError(t, err)
	require.Len(t, res.Assets.Records, 2)

	byKey := map[string]assets.ObjectRecord{}
	for _, r := range res.Assets.Records {
		byKey[r.StoreKey] = r
	}
	chunk := byKey["assets/_next/static/chunk.js"]
	index := byKey["assets/index.html"]
	assert.Equal(t, assets.CacheControlVersioned, chunk.CacheControl)
	assert.Equal(t, assets.CacheControlUnversioned, index.CacheControl)
	for _, r := range []assets.ObjectRecord{chunk, index} {
		assert.Regexp(t, "^shop-assets-[0-9a-f]{64}$", r.ResourceName)
		assert.True(t, strings.HasSuffix(r.ResourceName, r.Fingerprint))
	}

	info, err := h.store.Head(context.Background(), "assets/_next/static/chunk.js")
	require.NoError(t, err)
	assert.Equal(t, assets.CacheControlVersioned, info.CacheControl)
	assert.Len(t, h.ledger.Objects(res.RunID), 2)
}

func TestDeployOverwritesChangedContentInPlace(t *testing.T) {
	src := sourceTree(t, map[string]string{
		"index.html":            "<html></html>",
		"_next/static/chunk.js": "console.log(1)",
	})
	h := newHarness(t, src)
	ctx := context.Background()

	_, err := h.orch.Deploy(ctx, h.opts)
	require.NoError(t, err)
	before, err := h.store.Head(ctx, "assets/_next/static/chunk.js")
	require.NoError(t, err)
	puts := h.store.Puts()

	writeFile(t, filepath.Join(src, build.DefaultOutputDir, assets.PrefixAssets), "_next/static/chunk.js", "console.log(2)")
	res, err := h.orch.Deploy(ctx, h.opts)
	require.NoError(t, err)

	after, err := h.store.Head(ctx, "assets/_next/static/chunk.js")
	require.NoError(t, err)
	assert.NotEqual(t, before.ETag, after.ETag)
	assert.Equal(t, before.Fingerprint, after.Fingerprint)
	assert.Len(t, assetObjects(t, h.store), 2)
	assert.Equal(t, 1, res.Assets.Uploaded)
	assert.Equal(t, puts+1, h.store.Puts())
}

func TestDeployIsIdempotent(t *testing.T) {
	h := newHarness(t, sourceTree(t, map[string]string{"index.html": "hi"}))
	ctx := context.Background()

	first, err := h.orch.Deploy(ctx, h.opts)
	require.NoError(t, err)
	puts := h.store.Puts()

	second, err := h.orch.Deploy(ctx, h.opts)
	require.NoError(t, err)
	assert.Equal(t, puts, h.store.Puts())
	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, 1, second.Assets.Unchanged)
}

func TestDeployReportsURLOnceConverged(t *testing.T) {
	h := newHarness(t, sourceTree(t, nil))
	ctx := context.Background()

	first, err := h.orch.Deploy(ctx, h.opts)
	require.NoError(t, err)
	require.NoError(t, h.files.WriteOutputs("shop", first.Digest, plan.Result{
		Status:  plan.StatusConverged,
		Outputs: map[string]string{"shop-distribution.domainName": "d111.cloudfront.net"},
	}))

	second, err := h.orch.Deploy(ctx, h.opts)
	require.NoError(t, err)
	assert.Equal(t, "https://d111.cloudfront.net", second.URL)
	assert.Equal(t, edge.StateLive, second.State)

	state, err := h.ledger.DistributionState(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, edge.StateLive, state)
	run, err := h.ledger.LastRun(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, ledger.RunSucceeded, run.Status)
	assert.Equal(t, "https://d111.cloudfront.net", run.URL)
}

func TestDeployAggregatesSyncFailures(t *testing.T) {
	src := sourceTree(t, map[string]string{"ok.txt": "ok", "bad-1.txt": "x", "bad-2.txt": "y"})
	store := failingStore{MemoryStore: assets.NewMemoryStore(), bad: "bad-"}
	lg := ledger.NewMemoryLedger()
	orch, err := New(Config{Store: store, Submitter: plan.NewFileSubmitter(t.TempDir()), Ledger: lg})
	require.NoError(t, err)

	res, err := orch.Deploy(context.Background(), Options{
		Names:        resource.NewNames("shop", "", "us-east-1", "123456789012"),
		SourcePath:   src,
		BuildCommand: skipBuild(),
	})
	var derr *DeployError
	require.ErrorAs(t, err, &derr)
	var serr *assets.SyncError
	require.ErrorAs(t, err, &serr)
	assert.Len(t, serr.Failures, 2)
	assert.Equal(t, []string{"shop-bucket/assets"}, derr.Resources())

	require.NotNil(t, res.Submitted)
	_, err = store.Head(context.Background(), "assets/ok.txt")
	require.NoError(t, err)

	run, err := lg.LastRun(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, ledger.RunPartial, run.Status)
}

func TestDeployMissingBundleIsProvisioningFailure(t *testing.T) {
	src := sourceTree(t, nil)
	require.NoError(t, os.RemoveAll(filepath.Join(src, build.DefaultOutputDir, compute.BundleDir(compute.UnitImage))))
	h := newHarness(t, src)

	res, err := h.orch.Deploy(context.Background(), h.opts)
	var perr *plan.ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "shop-image", perr.Resource)
	assert.ErrorIs(t, err, compute.ErrNoBundle)
	assert.Nil(t, res.Submitted)

	_, statErr := os.Stat(h.files.DesiredPath("shop"))
	assert.True(t, os.IsNotExist(statErr))
	run, err := h.ledger.LastRun(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, ledger.RunFailed, run.Status)
	assert.Equal(t, []string{"shop-image"}, run.FailedResources)
}

func TestDeployRejectionNamesResources(t *testing.T) {
	rejecting := fakeSubmitter{submit: func(ctx context.Context, ds *plan.DesiredState) (*plan.Result, error) {
		return nil, &plan.RejectedError{StatusCode: 422, Errors: []plan.ResourceError{
			{Resource: "shop-server", Message: "role not assumable"},
		}}
	}}
	orch, err := New(Config{Store: assets.NewMemoryStore(), Submitter: rejecting})
	require.NoError(t, err)

	_, err = orch.Deploy(context.Background(), Options{
		Names:        resource.NewNames("shop", "", "us-east-1", "123456789012"),
		SourcePath:   sourceTree(t, nil),
		BuildCommand: skipBuild(),
	})
	var derr *DeployError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, []string{"shop-server"}, derr.Resources())
	assert.ErrorIs(t, err, plan.ErrRejected)
}

func TestDeployContinuesAfterBuildFailure(t *testing.T) {
	h := newHarness(t, sourceTree(t, map[string]string{"index.html": "hi"}))
	failing := "exit 1"
	h.opts.BuildCommand = &failing

	res, err := h.orch.Deploy(context.Background(), h.opts)
	require.NoError(t, err)
	assert.Equal(t, build.FailedNonFatal, res.Build.Status)
	assert.Equal(t, 1, res.Assets.Uploaded)
}

func TestPlanWritesNothing(t *testing.T) {
	h := newHarness(t, sourceTree(t, map[string]string{"index.html": "hi"}))

	ds, err := h.orch.Plan(context.Background(), h.opts)
	require.NoError(t, err)
	assert.Equal(t, "shop", ds.Name)
	assert.Len(t, ds.Units, 3)
	for _, u := range ds.Units {
		assert.True(t, strings.HasPrefix(u.Code.Key, "code/"+string(u.Name)+"/"))
	}
	assert.Zero(t, h.store.Len())
	_, statErr := os.Stat(h.files.DesiredPath("shop"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDestroyWithdrawsStackAndBlocksRedeploy(t *testing.T) {
	h := newHarness(t, sourceTree(t, nil))
	ctx := context.Background()

	_, err := h.orch.Deploy(ctx, h.opts)
	require.NoError(t, err)

	require.NoError(t, h.orch.Destroy(ctx, h.opts.Names))
	_, err = os.Stat(h.files.DesiredPath("shop"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	state, err := h.ledger.DistributionState(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, edge.StateDestroyed, state)

	puts := h.store.Puts()
	_, err = h.orch.Deploy(ctx, h.opts)
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.Equal(t, puts, h.store.Puts())
	run, err := h.ledger.LastRun(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, ledger.RunFailed, run.Status)
}

func TestDestroyRequiresProvisionedStack(t *testing.T) {
	h := newHarness(t, sourceTree(t, nil))
	err := h.orch.Destroy(context.Background(), h.opts.Names)
	require.Error(t, err)
	state, err := h.ledger.DistributionState(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, edge.StateUnprovisioned, state)
}

func TestDestroyNeedsCapableSubmitter(t *testing.T) {
	orch, err := New(Config{Store: assets.NewMemoryStore(), Submitter: fakeSubmitter{}})
	require.NoError(t, err)
	err = orch.Destroy(context.Background(), resource.NewNames("shop", "", "us-east-1", "123456789012"))
	assert.ErrorContains(t, err, "cannot destroy")
}
