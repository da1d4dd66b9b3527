package assets

import (
	"errors"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/hasher"
)

// Fingerprint names an object by the hash of its relative path, so the same
// path always maps to the same generated resource across runs.
func Fingerprint(relativePath string) string {
	return hasher.HashString(relativePath)
}

func isMissingRoot(err error) bool {
	return errors.Is(err, ErrMissingRoot)
}
