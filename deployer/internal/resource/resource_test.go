package resource

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefRoundTripsThroughJSON(t *testing.T) {
	ref := Ref{Resource: "site-server", Attribute: AttrURLDomain}
	b, err := json.Marshal(ref)
	require.NoError(t, err)
	assert.Equal(t, `"${site-server.functionUrlDomain}"`, string(b))

	var back Ref
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, ref, back)

	v, ok := ref.Resolve(map[string]string{"site-server.functionUrlDomain": "abc.lambda-url.us-east-1.on.aws"})
	assert.True(t, ok)
	assert.Equal(t, "abc.lambda-url.us-east-1.on.aws", v)
}

func TestParseRefRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "site.arn", "${site}", "${.arn}", "${site.}"} {
		_, err := ParseRef(s)
		assert.Error(t, err, s)
	}
}

func TestNames(t *testing.T) {
	n := NewNames("My Site!", "", "us-east-1", "123456789012")
	require.NoError(t, n.Validate())
	assert.Equal(t, "my-site", n.Stack)
	assert.Equal(t, "my-site-assets", n.Bucket)
	assert.Equal(t, "arn:aws:s3:::my-site-assets/cache/*", n.ObjectARN("/cache/"))
	assert.Equal(t, "arn:aws:sqs:us-east-1:123456789012:my-site-revalidation.fifo", n.QueueARN())
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123456789012/my-site-revalidation.fifo", n.QueueURL())
	assert.Equal(t, "my-site-assets.s3.us-east-1.amazonaws.com", n.BucketRegionalDomain())

	assert.Error(t, NewNames("x", "", "", "1").Validate())
}

func TestPolicyValidate(t *testing.T) {
	n := NewNames("site", "", "us-east-1", "123456789012")
	ok := PolicyDocument{Version: PolicyVersion, Statement: []Statement{{
		Effect: "Allow", Action: []string{"s3:GetObject"}, Resource: []string{n.ObjectARN("assets")},
	}}}
	require.NoError(t, ok.Validate())

	cases := map[string]PolicyDocument{
		"no statements":  {Version: PolicyVersion},
		"bare wildcard":  {Version: PolicyVersion, Statement: []Statement{{Effect: "Allow", Action: []string{"s3:GetObject"}, Resource: []string{"*"}}}},
		"bucket wide":    {Version: PolicyVersion, Statement: []Statement{{Effect: "Allow", Action: []string{"s3:GetObject"}, Resource: []string{n.BucketARN() + "/*"}}}},
		"action star":    {Version: PolicyVersion, Statement: []Statement{{Effect: "Allow", Action: []string{"s3:*"}, Resource: []string{n.BucketARN()}}}},
		"no actions":     {Version: PolicyVersion, Statement: []Statement{{Effect: "Allow", Resource: []string{n.BucketARN()}}}},
		"account wide":   {Version: PolicyVersion, Statement: []Statement{{Effect: "Allow", Action: []string{"sqs:SendMessage"}, Resource: []string{"arn:aws:sqs:us-east-1:123456789012:*"}}}},
		"missing effect": {Version: PolicyVersion, Statement: []Statement{{Action: []string{"s3:GetObject"}, Resource: []string{n.BucketARN()}}}},
	}
	for name, doc := range cases {
		assert.Error(t, doc.Validate(), name)
	}
}
