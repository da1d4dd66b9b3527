// Package plan holds the desired-state document of a deployment and submits
// it to the platform that reconciles it.
package plan

import (
	"fmt"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/canonical"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/compute"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/edge"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/resource"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/revalidation"
)

// Bucket is the private artifact bucket.
type Bucket struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	BlockPublicAccess bool   `json:"blockPublicAccess"`
	Encryption        string `json:"encryption"`
}

// UnitPolicy is a unit's grant rendered for the platform.
type UnitPolicy struct {
	Role     string                  `json:"role"`
	Document resource.PolicyDocument `json:"document"`
}

// DesiredState is everything the platform must converge to for one
// deployment. Building it has no side effects.
type DesiredState struct {
	Name         string                  `json:"name"`
	Region       string                  `json:"region"`
	Account      string                  `json:"account"`
	Bucket       Bucket                  `json:"bucket"`
	Units        []compute.Unit          `json:"units"`
	Policies     map[string]UnitPolicy   `json:"policies"`
	Pipeline     revalidation.Spec       `json:"pipeline"`
	Distribution edge.Distribution       `json:"distribution"`
	Outputs      map[string]resource.Ref `json:"outputs"`
}

// Output names requested from the platform.
const (
	OutputDomain    = "distributionDomain"
	OutputServerURL = "serverUrl"
	OutputImageURL  = "imageUrl"
	OutputQueueURL  = "queueUrl"
)

// New assembles the document from its parts.
func New(n resource.Names, units []compute.Unit, pipeline revalidation.Spec, dist edge.Distribution) *DesiredState {
	ds := &DesiredState{
		Name:    n.Stack,
		Region:  n.Region,
		Account: n.Account,
		Bucket: Bucket{
			ID:                n.BucketID(),
			Name:              n.Bucket,
			BlockPublicAccess: true,
			Encryption:        "AES256",
		},
		Units:        units,
		Policies:     map[string]UnitPolicy{},
		Pipeline:     pipeline,
		Distribution: dist,
		Outputs: map[string]resource.Ref{
			OutputDomain:   dist.DomainRef(),
			OutputQueueURL: {Resource: pipeline.QueueID, Attribute: resource.AttrQueueURL},
		},
	}
	for _, u := range units {
		ds.Policies[u.FunctionName] = UnitPolicy{Role: u.Role, Document: u.Grant.Policy()}
		switch u.Name {
		case compute.UnitServer:
			ds.Outputs[OutputServerURL] = resource.Ref{Resource: u.FunctionName, Attribute: resource.AttrFunctionURL}
		case compute.UnitImage:
			ds.Outputs[OutputImageURL] = resource.Ref{Resource: u.FunctionName, Attribute: resource.AttrFunctionURL}
		}
	}
	return ds
}

// Validate checks every resource and names the first one that cannot be
// provisioned.
func (d *DesiredState) Validate() error {
	if d.Name == "" {
		return &ProvisioningError{Resource: "stack", Err: fmt.Errorf("name required")}
	}
	if d.Bucket.Name == "" {
		return &ProvisioningError{Resource: d.Bucket.ID, Err: fmt.Errorf("bucket name required")}
	}
	for _, u := range d.Units {
		if err := u.Validate(); err != nil {
			return &ProvisioningError{Resource: u.FunctionName, Err: err}
		}
		if u.Code.Key == "" {
			return &ProvisioningError{Resource: u.FunctionName, Err: fmt.Errorf("no code package")}
		}
	}
	if err := d.Pipeline.Validate(); err != nil {
		return &ProvisioningError{Resource: d.Pipeline.QueueID, Err: err}
	}
	if err := d.Distribution.BucketPolicy.Validate(); err != nil {
		return &ProvisioningError{Resource: d.Distribution.ID, Err: err}
	}
	return nil
}

// Digest fingerprints the canonical form of the document.
func (d *DesiredState) Digest() (string, error) {
	return canonical.Digest(d)
}

// Document renders the canonical JSON submitted to the platform.
func (d *DesiredState) Document() ([]byte, error) {
	return canonical.MarshalIndent(d)
}
