// Package canonical renders JSON-like values deterministically so that policy
// documents and desired-state descriptions hash and diff the same way on every run.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/hasher"
)

// Marshal returns compact JSON with object keys sorted lexicographically.
// v goes through encoding/json once, so struct tags are honoured, and is
// decoded back into generic maps and slices with numbers kept verbatim.
// encoding/json writes map keys in sorted order, which makes the second
// encoding canonical.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return out, nil
}

// MarshalIndent is Marshal followed by two-space indentation, for files humans read.
func MarshalIndent(v interface{}) ([]byte, error) {
	compact, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, fmt.Errorf("canonical indent: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// Digest is the content hash of the canonical encoding of v.
func Digest(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return hasher.Hash(b), nil
}
