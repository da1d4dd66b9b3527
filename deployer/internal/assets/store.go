package assets

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by ObjectStore.Head when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Metadata keys written alongside every object.
const (
	MetaFingerprint = "fingerprint"
	MetaContentMD5  = "content-md5"
)

// ObjectInfo is what the store knows about one object.
type ObjectInfo struct {
	Key          string
	ETag         string
	ContentMD5   string // hex MD5 recorded at upload; preferred over ETag for multipart objects
	Fingerprint  string
	CacheControl string
	ContentType  string
	Size         int64
}

// PutInput describes one object write.
type PutInput struct {
	Key          string
	Body         io.Reader
	Size         int64
	ContentMD5   string
	Fingerprint  string
	CacheControl string
	ContentType  string
}

// ObjectStore is the storage platform as seen by the synchronizer.
type ObjectStore interface {
	Head(ctx context.Context, key string) (ObjectInfo, error)
	Put(ctx context.Context, in PutInput) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}
