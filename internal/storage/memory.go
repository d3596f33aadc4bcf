package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type memObject struct {
	data    []byte
	version int64
}

// Memory is an in-process Client. It backs single-node runs and tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
	seq     int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

func (m *Memory) Put(ctx context.Context, key string, data []byte) error {
	_, err := m.PutIf(ctx, key, data, Condition{})
	return err
}

func (m *Memory) PutIf(_ context.Context, key string, data []byte, cond Condition) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.objects[key]
	if cond.MustNotExist && exists {
		return "", fmt.Errorf("%w: %s exists", ErrPreconditionFailed, key)
	}
	if cond.MatchVersion != "" && (!exists || strconv.FormatInt(cur.version, 10) != cond.MatchVersion) {
		return "", fmt.Errorf("%w: %s version changed", ErrPreconditionFailed, key)
	}
	m.seq++
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = memObject{data: buf, version: m.seq}
	return strconv.FormatInt(m.seq, 10), nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, strconv.FormatInt(obj.version, 10), nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
		}
	}
	return nil
}

func (m *Memory) Download(ctx context.Context, key, path string) error {
	data, _, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (m *Memory) Upload(ctx context.Context, path, key string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return m.Put(ctx, key, data)
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
