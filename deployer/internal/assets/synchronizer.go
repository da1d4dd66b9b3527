package assets

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Store key prefixes for the two artifact namespaces.
const (
	PrefixAssets = "assets"
	PrefixCache  = "cache"
)

const DefaultConcurrency = 16

// ObjectRecord is the stored counterpart of one artifact.
type ObjectRecord struct {
	StoreKey     string `json:"storeKey"`
	Fingerprint  string `json:"fingerprint"`
	ResourceName string `json:"resourceName"`
	CacheControl string `json:"cacheControl"`
	ContentType  string `json:"contentType,omitempty"`
	ETag         string `json:"etag"`
	Size         int64  `json:"size"`
	Uploaded     bool   `json:"uploaded"`
}

// Options tune one Synchronizer.
type Options struct {
	// Name is the deployment name used in generated resource names.
	Name          string
	Concurrency   int
	RatePerSecond float64 // store calls per second; <= 0 means unlimited
	Prune         bool
	Logger        hclog.Logger
}

// Report summarises one Sync call.
type Report struct {
	Prefix    string
	Records   []ObjectRecord // sorted by StoreKey; failed objects are absent
	Uploaded  int
	Unchanged int
	Pruned    []string
}

// Synchronizer upserts an artifact tree into an ObjectStore.
type Synchronizer struct {
	store   ObjectStore
	opts    Options
	limiter *rate.Limiter
	logger  hclog.Logger
}

func NewSynchronizer(store ObjectStore, opts Options) *Synchronizer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Concurrency
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Synchronizer{
		store:   store,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("assets"),
	}
}

// Sync walks root and writes every artifact whose stored copy is missing or
// differs under prefix. A missing root is treated like an empty tree. Per-file
// failures do not stop other transfers; they are returned together as a
// *SyncError along with the records that did succeed.
func (s *Synchronizer) Sync(ctx context.Context, root, prefix string) (*Report, error) {
	var (
		mu       sync.Mutex
		failures []ObjectFailure
		walkErr  *WalkError
	)
	artifacts, err := Walk(root)
	switch {
	case err == nil:
	case isMissingRoot(err):
		s.logger.Debug("artifact root missing, nothing to sync", "root", root)
		artifacts = nil
	case errors.As(err, &walkErr):
		for _, e := range walkErr.Skipped {
			key := path.Join(prefix, e.RelativePath)
			s.logger.Warn("skipping unreadable artifact", "key", key, "error", e.Err)
			failures = append(failures, ObjectFailure{StoreKey: key, Err: e.Err})
		}
	default:
		return nil, err
	}

	report := &Report{Prefix: prefix}
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for _, a := range artifacts {
		g.Go(func() error {
			rec, err := s.syncOne(ctx, a, prefix)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, ObjectFailure{StoreKey: rec.StoreKey, Err: err})
				s.logger.Warn("object sync failed", "key", rec.StoreKey, "error", err)
				return nil
			}
			report.Records = append(report.Records, rec)
			if rec.Uploaded {
				report.Uploaded++
			} else {
				report.Unchanged++
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Records, func(i, j int) bool { return report.Records[i].StoreKey < report.Records[j].StoreKey })

	if s.opts.Prune && len(failures) == 0 {
		pruned, pruneFailures := s.prune(ctx, prefix, report.Records)
		report.Pruned = pruned
		failures = append(failures, pruneFailures...)
	}

	s.logger.Info("sync complete", "prefix", prefix, "objects", len(artifacts),
		"uploaded", report.Uploaded, "unchanged", report.Unchanged, "failed", len(failures))

	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].StoreKey < failures[j].StoreKey })
		return report, &SyncError{Failures: failures}
	}
	return report, nil
}

func (s *Synchronizer) syncOne(ctx context.Context, a Artifact, prefix string) (ObjectRecord, error) {
	class := Classify(a.RelativePath)
	rec := ObjectRecord{
		StoreKey:     path.Join(prefix, a.RelativePath),
		Fingerprint:  Fingerprint(a.RelativePath),
		CacheControl: class.CacheControl(),
		ContentType:  a.ContentType,
	}
	rec.ResourceName = fmt.Sprintf("%s-%s-%s", s.opts.Name, prefix, rec.Fingerprint)

	sum, size, err := fileMD5(a.AbsPath)
	if err != nil {
		return rec, err
	}
	rec.Size = size

	if err := s.limiter.Wait(ctx); err != nil {
		return rec, err
	}
	remote, err := s.store.Head(ctx, rec.StoreKey)
	switch {
	case err == nil:
		if !changed(remote, rec, sum) {
			rec.ETag = remote.ETag
			return rec, nil
		}
	case errors.Is(err, ErrNotFound):
	default:
		return rec, err
	}

	f, err := os.Open(a.AbsPath)
	if err != nil {
		return rec, fmt.Errorf("open %s: %w", a.AbsPath, err)
	}
	defer f.Close()

	if err := s.limiter.Wait(ctx); err != nil {
		return rec, err
	}
	info, err := s.store.Put(ctx, PutInput{
		Key:          rec.StoreKey,
		Body:         f,
		Size:         size,
		ContentMD5:   sum,
		Fingerprint:  rec.Fingerprint,
		CacheControl: rec.CacheControl,
		ContentType:  rec.ContentType,
	})
	if err != nil {
		return rec, err
	}
	rec.ETag = info.ETag
	rec.Uploaded = true
	s.logger.Debug("object uploaded", "key", rec.StoreKey, "class", class.String(), "size", size)
	return rec, nil
}

func (s *Synchronizer) prune(ctx context.Context, prefix string, keep []ObjectRecord) ([]string, []ObjectFailure) {
	wanted := make(map[string]bool, len(keep))
	for _, r := range keep {
		wanted[r.StoreKey] = true
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, []ObjectFailure{{StoreKey: prefix, Err: err}}
	}
	existing, err := s.store.List(ctx, prefix+"/")
	if err != nil {
		return nil, []ObjectFailure{{StoreKey: prefix, Err: err}}
	}
	var (
		pruned   []string
		failures []ObjectFailure
	)
	for _, obj := range existing {
		if wanted[obj.Key] {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			failures = append(failures, ObjectFailure{StoreKey: obj.Key, Err: err})
			continue
		}
		if err := s.store.Delete(ctx, obj.Key); err != nil {
			failures = append(failures, ObjectFailure{StoreKey: obj.Key, Err: err})
			continue
		}
		pruned = append(pruned, obj.Key)
	}
	if len(pruned) > 0 {
		s.logger.Info("pruned stale objects", "prefix", prefix, "count", len(pruned))
	}
	return pruned, failures
}

// changed reports whether the stored object must be rewritten. Multipart ETags
// are not an MD5, so the recorded content-md5 metadata wins when present.
func changed(remote ObjectInfo, want ObjectRecord, localMD5 string) bool {
	remoteMD5 := remote.ContentMD5
	if remoteMD5 == "" {
		remoteMD5 = remote.ETag
	}
	return remoteMD5 != localMD5 ||
		remote.CacheControl != want.CacheControl ||
		remote.ContentType != want.ContentType ||
		remote.Fingerprint != want.Fingerprint
}

func fileMD5(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()
	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
