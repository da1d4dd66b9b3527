// Package edge assembles the CDN distribution that fronts a deployment and
// tracks its provisioning lifecycle.
package edge

import (
	"fmt"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/compute"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/resource"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/routing"
)

const (
	OriginKindCustom = "custom"
	OriginKindS3     = "s3"

	ProtocolHTTPSOnly   = "https-only"
	ViewerRedirectHTTPS = "redirect-to-https"
	PriceClass          = "PriceClass_100"
	EventViewerRequest  = "viewer-request"
	functionRuntime     = "cloudfront-js-2.0"
)

// Origin is one upstream of the distribution. Custom origins point at a
// function URL domain that only exists after provisioning.
type Origin struct {
	ID                  routing.OriginID `json:"id"`
	Kind                string           `json:"kind"`
	DomainName          string           `json:"domainName,omitempty"`
	DomainRef           *resource.Ref    `json:"domainRef,omitempty"`
	OriginPath          string           `json:"originPath,omitempty"`
	ProtocolPolicy      string           `json:"protocolPolicy,omitempty"`
	OriginAccessControl string           `json:"originAccessControl,omitempty"`
}

// FunctionAssociation attaches an edge function to a behavior.
type FunctionAssociation struct {
	EventType string `json:"eventType"`
	Function  string `json:"function"`
}

// Behavior is a routing rule rendered for the distribution.
type Behavior struct {
	PathPattern          string                `json:"pathPattern,omitempty"`
	TargetOrigin         routing.OriginID      `json:"targetOrigin"`
	ViewerProtocolPolicy string                `json:"viewerProtocolPolicy"`
	AllowedMethods       []string              `json:"allowedMethods"`
	CachedMethods        []string              `json:"cachedMethods"`
	CachePolicy          routing.CachePolicy   `json:"cachePolicy"`
	Compress             bool                  `json:"compress"`
	Functions            []FunctionAssociation `json:"functions,omitempty"`
}

// Function is a viewer-request function deployed at the edge.
type Function struct {
	Name    string `json:"name"`
	Runtime string `json:"runtime"`
	Code    string `json:"code"`
}

// OriginAccessControl lets the distribution sign requests to the private bucket.
type OriginAccessControl struct {
	Name            string `json:"name"`
	OriginType      string `json:"originType"`
	SigningBehavior string `json:"signingBehavior"`
	SigningProtocol string `json:"signingProtocol"`
}

// Certificate selects the viewer certificate.
type Certificate struct {
	Default bool `json:"default"`
}

// Distribution is the desired state of the CDN layer.
type Distribution struct {
	ID                  string                  `json:"id"`
	Enabled             bool                    `json:"enabled"`
	PriceClass          string                  `json:"priceClass"`
	Origins             []Origin                `json:"origins"`
	Behaviors           []Behavior              `json:"behaviors"`
	DefaultBehavior     Behavior                `json:"defaultBehavior"`
	Functions           []Function              `json:"functions"`
	OriginAccessControl OriginAccessControl     `json:"originAccessControl"`
	Certificate         Certificate             `json:"certificate"`
	BucketPolicy        resource.PolicyDocument `json:"bucketPolicy"`
}

// DomainRef references the distribution's public hostname.
func (d Distribution) DomainRef() resource.Ref {
	return resource.Ref{Resource: d.ID, Attribute: resource.AttrDomainName}
}

// PublicURL resolves the deployment URL from platform outputs.
func (d Distribution) PublicURL(outputs map[string]string) (string, bool) {
	domain, ok := d.DomainRef().Resolve(outputs)
	if !ok {
		return "", false
	}
	return "https://" + domain, true
}

// Inputs are everything Assemble needs.
type Inputs struct {
	Names       resource.Names
	Table       routing.Table
	Server      compute.Unit
	Image       compute.Unit
	AssetPrefix string
}

// Assemble renders the routing table into a distribution: HTTPS-only custom
// origins for the server and image units, a signed S3 origin for static
// assets and a bucket policy readable only by this distribution.
func Assemble(in Inputs) (Distribution, error) {
	if err := in.Table.Validate(); err != nil {
		return Distribution{}, err
	}
	if in.Server.FunctionName == "" || in.Image.FunctionName == "" {
		return Distribution{}, fmt.Errorf("server and image units required")
	}
	n := in.Names
	d := Distribution{
		ID:         n.DistributionID(),
		Enabled:    true,
		PriceClass: PriceClass,
		OriginAccessControl: OriginAccessControl{
			Name:            n.Stack + "-oac",
			OriginType:      "s3",
			SigningBehavior: "always",
			SigningProtocol: "sigv4",
		},
		Certificate: Certificate{Default: true},
	}

	origins := map[routing.OriginID]Origin{
		routing.OriginServer: {
			ID: routing.OriginServer, Kind: OriginKindCustom,
			DomainRef: refTo(in.Server.URLDomain()), ProtocolPolicy: ProtocolHTTPSOnly,
		},
		routing.OriginImage: {
			ID: routing.OriginImage, Kind: OriginKindCustom,
			DomainRef: refTo(in.Image.URLDomain()), ProtocolPolicy: ProtocolHTTPSOnly,
		},
		routing.OriginStatic: {
			ID: routing.OriginStatic, Kind: OriginKindS3,
			DomainName: n.BucketRegionalDomain(), OriginPath: "/" + in.AssetPrefix,
			OriginAccessControl: d.OriginAccessControl.Name,
		},
	}
	for _, id := range in.Table.Origins() {
		d.Origins = append(d.Origins, origins[id])
	}

	hostRewrite := Function{Name: n.Stack + "-host-rewrite", Runtime: functionRuntime, Code: hostRewriteCode}
	usesRewrite := false
	for _, r := range in.Table {
		b := Behavior{
			PathPattern:          r.PathPattern,
			TargetOrigin:         r.Origin,
			ViewerProtocolPolicy: ViewerRedirectHTTPS,
			AllowedMethods:       r.AllowedMethods,
			CachedMethods:        r.CachedMethods,
			CachePolicy:          r.CachePolicy,
			Compress:             r.Compress,
		}
		if r.RequestTransform == routing.TransformHostRewrite {
			usesRewrite = true
			b.Functions = []FunctionAssociation{{EventType: EventViewerRequest, Function: hostRewrite.Name}}
		}
		if r.IsDefault() {
			d.DefaultBehavior = b
		} else {
			d.Behaviors = append(d.Behaviors, b)
		}
	}
	if usesRewrite {
		d.Functions = []Function{hostRewrite}
	}

	d.BucketPolicy = bucketPolicy(n, in.AssetPrefix, d)
	if err := d.BucketPolicy.Validate(); err != nil {
		return Distribution{}, fmt.Errorf("bucket policy: %w", err)
	}
	return d, nil
}

func refTo(r resource.Ref) *resource.Ref { return &r }

func bucketPolicy(n resource.Names, assetPrefix string, d Distribution) resource.PolicyDocument {
	distributionARN := resource.Ref{Resource: d.ID, Attribute: resource.AttrARN}
	return resource.PolicyDocument{
		Version: resource.PolicyVersion,
		Statement: []resource.Statement{{
			Sid:       "AllowDistributionRead",
			Effect:    "Allow",
			Principal: map[string]string{"Service": "cloudfront.amazonaws.com"},
			Action:    []string{"s3:GetObject"},
			Resource:  []string{n.ObjectARN(assetPrefix)},
			Condition: map[string]map[string][]string{
				"StringEquals": {"AWS:SourceArn": {distributionARN.String()}},
			},
		}},
	}
}

// hostRewriteCode preserves the viewer's hostname for the server unit, which
// only sees its own function URL domain in Host.
const hostRewriteCode = `function handler(event) {
  var request = event.request;
  request.headers["x-forwarded-host"] = request.headers.host;
  return request;
}
`
