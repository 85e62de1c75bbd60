package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	info Info
	data []byte
}

// MemoryBlob keeps blobs in process memory.
type MemoryBlob struct {
	mu   sync.RWMutex
	objs map[string]memoryObject
}

// NewMemoryBlob returns an empty in-memory blob store.
func NewMemoryBlob() *MemoryBlob {
	return &MemoryBlob{objs: make(map[string]memoryObject)}
}

// Driver returns DriverMemory.
func (m *MemoryBlob) Driver() string { return DriverMemory }

// Put stores a new blob. Existing keys are never overwritten.
func (m *MemoryBlob) Put(_ context.Context, key string, r io.Reader, contentType string) (Info, error) {
	key, err := cleanKey(key)
	if err != nil {
		return Info{}, err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return Info{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objs[key]; ok {
		return Info{}, fmt.Errorf("%w: %s", ErrExists, key)
	}
	info := Info{Key: key, Size: int64(len(b)), ContentType: contentType, LastModified: time.Now().UTC()}
	m.objs[key] = memoryObject{info: info, data: b}
	return info, nil
}

// Get returns a reader over a private copy of the blob.
func (m *MemoryBlob) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objs[key]
	m.mu.RUnlock()
	if !ok {
		return Info{}, nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	data := bytes.Clone(obj.data)
	return obj.info, io.NopCloser(bytes.NewReader(data)), nil
}

// List returns blobs under prefix sorted by key.
func (m *MemoryBlob) List(_ context.Context, prefix string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.objs))
	for k, obj := range m.objs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, obj.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
