package compute

import (
	"fmt"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/resource"
)

// Grant is the permission set attached to one unit's role.
type Grant struct {
	Principal  string               `json:"principal"`
	Statements []resource.Statement `json:"statements"`
}

// Policy renders the grant as a policy document.
func (g Grant) Policy() resource.PolicyDocument {
	return resource.PolicyDocument{Version: resource.PolicyVersion, Statement: g.Statements}
}

func (g Grant) Validate() error {
	if len(g.Statements) == 0 {
		return fmt.Errorf("grant has no statements")
	}
	if err := g.Policy().Validate(); err != nil {
		return fmt.Errorf("grant for %s: %w", g.Principal, err)
	}
	return nil
}

func allow(sid string, actions []string, resources ...string) resource.Statement {
	return resource.Statement{Sid: sid, Effect: "Allow", Action: actions, Resource: resources}
}

func serverGrant(b Bindings) Grant {
	n := b.Names
	list := allow("ListArtifactPrefixes", []string{"s3:ListBucket"}, n.BucketARN())
	list.Condition = map[string]map[string][]string{
		"StringLike": {"s3:prefix": {b.AssetPrefix + "/*", b.CachePrefix + "/*"}},
	}
	return Grant{Statements: []resource.Statement{
		allow("ReadWriteArtifacts",
			[]string{"s3:DeleteObject", "s3:GetObject", "s3:PutObject"},
			n.ObjectARN(b.AssetPrefix), n.ObjectARN(b.CachePrefix)),
		list,
		allow("EnqueueRevalidation", []string{"sqs:SendMessage"}, n.QueueARN()),
	}}
}

func imageGrant(b Bindings) Grant {
	return Grant{Statements: []resource.Statement{
		allow("ReadAssets", []string{"s3:GetObject"}, b.Names.ObjectARN(b.AssetPrefix)),
	}}
}

func revalidationGrant(b Bindings) Grant {
	return Grant{Statements: []resource.Statement{
		allow("ConsumeRevalidation",
			[]string{"sqs:ChangeMessageVisibility", "sqs:DeleteMessage", "sqs:ReceiveMessage"},
			b.Names.QueueARN()),
	}}
}
