package assets

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type memoryObject struct {
	info ObjectInfo
	body []byte
}

// MemoryStore is an in-process ObjectStore for local runs and tests.
// ETags are the hex MD5 of the body, like single-part S3 uploads.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	puts    atomic.Int64
	deletes atomic.Int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]memoryObject{}}
}

func (m *MemoryStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrNotFound
	}
	return obj.info, nil
}

func (m *MemoryStore) Put(ctx context.Context, in PutInput) (ObjectInfo, error) {
	if in.Key == "" {
		return ObjectInfo{}, fmt.Errorf("key required")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("read body: %w", err)
	}
	sum := md5.Sum(body)
	info := ObjectInfo{
		Key:          in.Key,
		ETag:         hex.EncodeToString(sum[:]),
		ContentMD5:   in.ContentMD5,
		Fingerprint:  in.Fingerprint,
		CacheControl: in.CacheControl,
		ContentType:  in.ContentType,
		Size:         int64(len(body)),
	}
	m.mu.Lock()
	m.objects[in.Key] = memoryObject{info: info, body: body}
	m.mu.Unlock()
	m.puts.Add(1)
	return info, nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ObjectInfo
	for k, obj := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, obj.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		delete(m.objects, key)
		m.deletes.Add(1)
	}
	return nil
}

// Body returns a copy of the stored bytes.
func (m *MemoryStore) Body(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.body...), true
}

// Puts is the number of successful writes since creation.
func (m *MemoryStore) Puts() int64 { return m.puts.Load() }

// Deletes is the number of objects removed since creation.
func (m *MemoryStore) Deletes() int64 { return m.deletes.Load() }

// Len is the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
