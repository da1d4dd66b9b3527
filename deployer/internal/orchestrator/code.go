package orchestrator

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/assets"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/compute"
)

const zipContentType = "application/zip"

// packageUnits zips every unit's bundle under root. A missing bundle fails
// only that unit.
func packageUnits(root string) (map[compute.UnitName]compute.Package, []ResourceFailure) {
	pkgs := map[compute.UnitName]compute.Package{}
	var failures []ResourceFailure
	for _, u := range compute.AllUnits() {
		pkg, err := compute.PackageDir(u, filepath.Join(root, compute.BundleDir(u)))
		if err != nil {
			failures = append(failures, ResourceFailure{Resource: string(u), Err: err})
			continue
		}
		pkgs[u] = pkg
	}
	return pkgs, failures
}

// uploadPackage writes the package unless an object already exists under its
// digest-named key.
func uploadPackage(ctx context.Context, store assets.ObjectStore, pkg compute.Package) (bool, error) {
	key := pkg.Key()
	_, err := store.Head(ctx, key)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, assets.ErrNotFound) {
		return false, fmt.Errorf("head %s: %w", key, err)
	}
	sum := md5.Sum(pkg.Data)
	if _, err := store.Put(ctx, assets.PutInput{
		Key:          key,
		Body:         bytes.NewReader(pkg.Data),
		Size:         int64(len(pkg.Data)),
		ContentMD5:   hex.EncodeToString(sum[:]),
		Fingerprint:  pkg.Digest,
		CacheControl: assets.CacheControlVersioned,
		ContentType:  zipContentType,
	}); err != nil {
		return false, fmt.Errorf("put %s: %w", key, err)
	}
	return true, nil
}
