package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileSubmitter writes the desired state to a directory watched by a local
// reconciler and reads back whatever outputs that reconciler has published.
//
//	<dir>/<name>.desired.json   written on every submit
//	<dir>/<name>.outputs.json   written by the reconciler
type FileSubmitter struct {
	dir string
}

func NewFileSubmitter(dir string) *FileSubmitter {
	return &FileSubmitter{dir: dir}
}

// fileOutputs is the reconciler's document. Digest names the desired state
// the outputs were produced for.
type fileOutputs struct {
	Result
	Digest string `json:"digest,omitempty"`
}

func (f *FileSubmitter) DesiredPath(name string) string {
	return filepath.Join(f.dir, name+".desired.json")
}

func (f *FileSubmitter) OutputsPath(name string) string {
	return filepath.Join(f.dir, name+".outputs.json")
}

// Destroy removes the desired-state document; the reconciler tears down a
// stack whose document is gone.
func (f *FileSubmitter) Destroy(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(f.DesiredPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove desired state: %w", err)
	}
	return nil
}

// Submit returns StatusPending until outputs for the current digest exist.
// Outputs written for an older digest are still returned, since endpoints
// survive updates.
func (f *FileSubmitter) Submit(ctx context.Context, ds *DesiredState) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plan dir: %w", err)
	}
	doc, err := ds.Document()
	if err != nil {
		return nil, fmt.Errorf("render desired state: %w", err)
	}
	digest, err := ds.Digest()
	if err != nil {
		return nil, fmt.Errorf("digest desired state: %w", err)
	}
	if err := os.WriteFile(f.DesiredPath(ds.Name), doc, 0o644); err != nil {
		return nil, fmt.Errorf("write desired state: %w", err)
	}

	b, err := os.ReadFile(f.OutputsPath(ds.Name))
	if errors.Is(err, os.ErrNotExist) {
		return &Result{Status: StatusPending, Outputs: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read outputs: %w", err)
	}
	var out fileOutputs
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	res := out.Result
	if res.Outputs == nil {
		res.Outputs = map[string]string{}
	}
	if out.Digest != "" && out.Digest != digest && res.Status == StatusConverged {
		res.Status = StatusPending
	}
	return &res, nil
}

// WriteOutputs publishes a result the way a local reconciler would.
func (f *FileSubmitter) WriteOutputs(name, digest string, res Result) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(fileOutputs{Result: res, Digest: digest}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.OutputsPath(name), b, 0o644)
}
