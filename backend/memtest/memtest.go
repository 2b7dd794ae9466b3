// Package memtest is an in-memory backend.Object/backend.KV double used
// only from _test.go files (juleaserver's server_test.go). It exists
// purely so those packages have something to dispatch against without
// pulling in a real storage backend, the same role JULEA's own
// daemon/backend/null.c plays for its test suite. It is not a production
// backend (see backend's package doc: posix/null/gio are a Non-goal).
package memtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juleafs/julea"
	"github.com/juleafs/julea/backend"
	"github.com/juleafs/julea/semantics"
)

type objectEntry struct {
	data  []byte
	mtime time.Time
}

// Object is a process-local map keyed by "namespace/name", guarded by a
// mutex since multiple dispatch workers may open the same object
// concurrently.
type Object struct {
	mu      sync.Mutex
	objects map[string]*objectEntry
}

// NewObject returns an empty Object backend double.
func NewObject() *Object {
	return &Object{objects: make(map[string]*objectEntry)}
}

func objKey(namespace, name string) string { return namespace + "/" + name }

func (o *Object) Create(ctx context.Context, namespace, name string) (backend.ObjectHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := objKey(namespace, name)
	if _, ok := o.objects[key]; ok {
		return nil, julea.ErrAlreadyExists
	}
	o.objects[key] = &objectEntry{mtime: time.Now()}
	return key, nil
}

func (o *Object) Open(ctx context.Context, namespace, name string) (backend.ObjectHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := objKey(namespace, name)
	if _, ok := o.objects[key]; !ok {
		return nil, julea.NewNotFoundError("object", key)
	}
	return key, nil
}

func (o *Object) Delete(ctx context.Context, h backend.ObjectHandle) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := h.(string)
	if _, ok := o.objects[key]; !ok {
		return julea.NewNotFoundError("object", key)
	}
	delete(o.objects, key)
	return nil
}

func (o *Object) Close(ctx context.Context, h backend.ObjectHandle) error { return nil }

func (o *Object) Status(ctx context.Context, h backend.ObjectHandle) (time.Time, uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.objects[h.(string)]
	if !ok {
		return time.Time{}, 0, julea.NewNotFoundError("object", fmt.Sprint(h))
	}
	return e.mtime, uint64(len(e.data)), nil
}

func (o *Object) Sync(ctx context.Context, h backend.ObjectHandle) error { return nil }

func (o *Object) Read(ctx context.Context, h backend.ObjectHandle, buf []byte, offset uint64) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.objects[h.(string)]
	if !ok {
		return 0, julea.NewNotFoundError("object", fmt.Sprint(h))
	}
	if offset >= uint64(len(e.data)) {
		return 0, nil
	}
	n := copy(buf, e.data[offset:])
	return n, nil
}

func (o *Object) Write(ctx context.Context, h backend.ObjectHandle, buf []byte, offset uint64) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.objects[h.(string)]
	if !ok {
		return 0, julea.NewNotFoundError("object", fmt.Sprint(h))
	}
	end := offset + uint64(len(buf))
	if end > uint64(len(e.data)) {
		grown := make([]byte, end)
		copy(grown, e.data)
		e.data = grown
	}
	n := copy(e.data[offset:end], buf)
	e.mtime = time.Now()
	return n, nil
}

// KV is a process-local map of namespace -> key -> value.
type KV struct {
	mu     sync.Mutex
	spaces map[string]map[string][]byte
}

// NewKV returns an empty KV backend double.
func NewKV() *KV {
	return &KV{spaces: make(map[string]map[string][]byte)}
}

type kvBatch struct {
	namespace string
	sem       semantics.Semantics
}

func (k *KV) BatchStart(ctx context.Context, namespace string, sem semantics.Semantics) (backend.KVBatch, error) {
	return &kvBatch{namespace: namespace, sem: sem}, nil
}

func (k *KV) BatchExecute(ctx context.Context, b backend.KVBatch) error { return nil }

func (k *KV) space(namespace string) map[string][]byte {
	s, ok := k.spaces[namespace]
	if !ok {
		s = make(map[string][]byte)
		k.spaces[namespace] = s
	}
	return s
}

func (k *KV) Put(ctx context.Context, b backend.KVBatch, key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.space(b.(*kvBatch).namespace)[key] = append([]byte(nil), value...)
	return nil
}

func (k *KV) Delete(ctx context.Context, b backend.KVBatch, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	s := k.space(b.(*kvBatch).namespace)
	if _, ok := s[key]; !ok {
		return julea.NewNotFoundError("key", key)
	}
	delete(s, key)
	return nil
}

func (k *KV) Get(ctx context.Context, b backend.KVBatch, key string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.space(b.(*kvBatch).namespace)[key]
	if !ok {
		return nil, julea.NewNotFoundError("key", key)
	}
	return v, nil
}

type kvIterator struct {
	pairs []struct {
		key   string
		value []byte
	}
	pos int
}

func (it *kvIterator) Next(ctx context.Context) (string, []byte, bool, error) {
	if it.pos >= len(it.pairs) {
		return "", nil, false, nil
	}
	p := it.pairs[it.pos]
	it.pos++
	return p.key, p.value, true, nil
}

func (it *kvIterator) Close() error { return nil }

func (k *KV) GetAll(ctx context.Context, namespace string) (backend.KVIterator, error) {
	return k.getByPrefix(namespace, "")
}

func (k *KV) GetByPrefix(ctx context.Context, namespace, prefix string) (backend.KVIterator, error) {
	return k.getByPrefix(namespace, prefix)
}

func (k *KV) getByPrefix(namespace, prefix string) (*kvIterator, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	it := &kvIterator{}
	for key, value := range k.space(namespace) {
		if len(prefix) > 0 && (len(key) < len(prefix) || key[:len(prefix)] != prefix) {
			continue
		}
		it.pairs = append(it.pairs, struct {
			key   string
			value []byte
		}{key, value})
	}
	return it, nil
}
