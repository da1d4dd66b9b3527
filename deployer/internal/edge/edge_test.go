package edge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/compute"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/resource"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/routing"
)

func testInputs() Inputs {
	names := resource.NewNames("shop", "", "us-east-1", "123456789012")
	set := compute.Units(compute.Bindings{Names: names, AssetPrefix: "assets", CachePrefix: "cache"}, nil)
	server, _ := set.Get(compute.UnitServer)
	image, _ := set.Get(compute.UnitImage)
	return Inputs{Names: names, Table: routing.DefaultTable(), Server: server, Image: image, AssetPrefix: "assets"}
}

func TestAssembleOrigins(t *testing.T) {
	d, err := Assemble(testInputs())
	require.NoError(t, err)

	require.Len(t, d.Origins, 3)
	byID := map[routing.OriginID]Origin{}
	for _, o := range d.Origins {
		byID[o.ID] = o
	}
	server := byID[routing.OriginServer]
	assert.Equal(t, OriginKindCustom, server.Kind)
	assert.Equal(t, ProtocolHTTPSOnly, server.ProtocolPolicy)
	require.NotNil(t, server.DomainRef)
	assert.Equal(t, "${shop-server.functionUrlDomain}", server.DomainRef.String())

	image := byID[routing.OriginImage]
	assert.Equal(t, "${shop-image.functionUrlDomain}", image.DomainRef.String())

	static := byID[routing.OriginStatic]
	assert.Equal(t, OriginKindS3, static.Kind)
	assert.Equal(t, "shop-assets.s3.us-east-1.amazonaws.com", static.DomainName)
	assert.Equal(t, "/assets", static.OriginPath)
	assert.Equal(t, d.OriginAccessControl.Name, static.OriginAccessControl)
	assert.Nil(t, static.DomainRef)
	assert.True(t, d.Certificate.Default)
}

func TestAssembleBehaviorsFollowTable(t *testing.T) {
	in := testInputs()
	d, err := Assemble(in)
	require.NoError(t, err)

	require.Len(t, d.Behaviors, len(in.Table)-1)
	for i, b := range d.Behaviors {
		assert.Equal(t, in.Table[i].PathPattern, b.PathPattern)
		assert.Equal(t, ViewerRedirectHTTPS, b.ViewerProtocolPolicy)
	}
	assert.Equal(t, routing.OriginServer, d.DefaultBehavior.TargetOrigin)
	assert.Empty(t, d.DefaultBehavior.PathPattern)

	require.Len(t, d.Functions, 1)
	fn := d.Functions[0].Name
	assert.Contains(t, d.Functions[0].Code, "x-forwarded-host")
	for _, b := range append(d.Behaviors, d.DefaultBehavior) {
		if b.TargetOrigin == routing.OriginServer {
			require.Len(t, b.Functions, 1, b.PathPattern)
			assert.Equal(t, fn, b.Functions[0].Function)
			assert.Equal(t, EventViewerRequest, b.Functions[0].EventType)
		} else {
			assert.Empty(t, b.Functions, b.PathPattern)
		}
	}
}

func TestAssembleBucketPolicyScopedToDistribution(t *testing.T) {
	d, err := Assemble(testInputs())
	require.NoError(t, err)
	require.Len(t, d.BucketPolicy.Statement, 1)
	st := d.BucketPolicy.Statement[0]
	assert.Equal(t, []string{"s3:GetObject"}, st.Action)
	assert.Equal(t, []string{"arn:aws:s3:::shop-assets/assets/*"}, st.Resource)
	assert.Equal(t, []string{"${shop-distribution.arn}"}, st.Condition["StringEquals"]["AWS:SourceArn"])
}

func TestAssembleRejectsInvalidTable(t *testing.T) {
	in := testInputs()
	in.Table = in.Table[:len(in.Table)-1]
	_, err := Assemble(in)
	assert.ErrorIs(t, err, routing.ErrInvalidTable)
}

func TestPublicURL(t *testing.T) {
	d, err := Assemble(testInputs())
	require.NoError(t, err)
	_, ok := d.PublicURL(nil)
	assert.False(t, ok)
	url, ok := d.PublicURL(map[string]string{"shop-distribution.domainName": "d111.cloudfront.net"})
	require.True(t, ok)
	assert.Equal(t, "https://d111.cloudfront.net", url)
}

func TestLifecycleHappyPath(t *testing.T) {
	l, err := NewLifecycle()
	require.NoError(t, err)
	assert.Equal(t, StateUnprovisioned, l.State())

	require.NoError(t, l.Submit())
	assert.Equal(t, StateProvisioning, l.State())
	require.NoError(t, l.Observe("pending"))
	assert.Equal(t, StateProvisioning, l.State())
	require.NoError(t, l.Observe("converged"))
	assert.Equal(t, StateLive, l.State())

	require.NoError(t, l.Submit())
	assert.Equal(t, StateUpdating, l.State())
	require.NoError(t, l.Observe("CONVERGED"))
	assert.Equal(t, StateLive, l.State())

	require.NoError(t, l.Destroy())
	assert.Equal(t, StateDestroyed, l.State())
	assert.True(t, l.Terminal())
	assert.Len(t, l.History(), 5)
}

func TestLifecycleRejectsInvalidEvents(t *testing.T) {
	l, err := NewLifecycle()
	require.NoError(t, err)
	assert.Error(t, l.Fire(EventConverged))
	assert.Error(t, l.Destroy())
	assert.Equal(t, StateUnprovisioned, l.State())
}

func TestLifecycleRestore(t *testing.T) {
	l, err := RestoreLifecycle(StateLive)
	require.NoError(t, err)
	assert.Equal(t, StateLive, l.State())
	require.NoError(t, l.Submit())
	assert.Equal(t, StateUpdating, l.State())

	resumed, err := RestoreLifecycle(StateProvisioning)
	require.NoError(t, err)
	require.NoError(t, resumed.Submit())
	assert.Equal(t, StateProvisioning, resumed.State())

	_, err = RestoreLifecycle("bogus")
	assert.Error(t, err)
}
