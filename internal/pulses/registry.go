package pulses

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// StorageBackend stores serialized templates under a name.
type StorageBackend interface {
	Get(name string) ([]byte, error)
	Put(name string, data []byte, overwrite bool) error
	Exists(name string) bool
	List() ([]string, error)
}

// FilesystemBackend stores each template as <name>.json in one directory.
type FilesystemBackend struct {
	dir string
}

// NewFilesystemBackend creates the directory if needed and returns a backend
// rooted there.
func NewFilesystemBackend(dir string) (*FilesystemBackend, error) {
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, err
	}
	return &FilesystemBackend{dir: dir}, nil
}

func (b *FilesystemBackend) path(name string) string {
	return filepath.Join(b.dir, name+".json")
}

func (b *FilesystemBackend) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(b.path(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("pulses: no stored template named %q", name)
	}
	return data, err
}

func (b *FilesystemBackend) Put(name string, data []byte, overwrite bool) error {
	if !overwrite && b.Exists(name) {
		return fmt.Errorf("pulses: template %q already stored", name)
	}
	return os.WriteFile(b.path(name), data, 0664)
}

func (b *FilesystemBackend) Exists(name string) bool {
	_, err := os.Stat(b.path(name))
	return err == nil
}

func (b *FilesystemBackend) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(b.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// MemoryBackend keeps serialized templates in a map. Handy in tests and for
// registries populated programmatically.
type MemoryBackend struct {
	entries map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]byte)}
}

func (b *MemoryBackend) Get(name string) ([]byte, error) {
	data, ok := b.entries[name]
	if !ok {
		return nil, fmt.Errorf("pulses: no stored template named %q", name)
	}
	return data, nil
}

func (b *MemoryBackend) Put(name string, data []byte, overwrite bool) error {
	if _, ok := b.entries[name]; ok && !overwrite {
		return fmt.Errorf("pulses: template %q already stored", name)
	}
	b.entries[name] = data
	return nil
}

func (b *MemoryBackend) Exists(name string) bool {
	_, ok := b.entries[name]
	return ok
}

func (b *MemoryBackend) List() ([]string, error) {
	names := make([]string, 0, len(b.entries))
	for n := range b.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Registry resolves templates by name, caching deserialized instances.
type Registry struct {
	backend StorageBackend
	mu      sync.Mutex
	cache   map[string]PulseTemplate
}

// NewRegistry returns a registry over the given backend.
func NewRegistry(backend StorageBackend) *Registry {
	return &Registry{backend: backend, cache: make(map[string]PulseTemplate)}
}

// Load returns the named template, deserializing it on first use.
func (r *Registry) Load(name string) (PulseTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.cache[name]; ok {
		return t, nil
	}
	data, err := r.backend.Get(name)
	if err != nil {
		return nil, err
	}
	t, err := UnmarshalTemplate(data)
	if err != nil {
		return nil, fmt.Errorf("pulses: template %q: %w", name, err)
	}
	r.cache[name] = t
	return t, nil
}

// Store serializes the template under the given name.
func (r *Registry) Store(name string, t PulseTemplate, overwrite bool) error {
	data, err := MarshalTemplate(t)
	if err != nil {
		return err
	}
	if err := r.backend.Put(name, data, overwrite); err != nil {
		return err
	}
	r.mu.Lock()
	r.cache[name] = t
	r.mu.Unlock()
	return nil
}

// Known lists the names available in the backend.
func (r *Registry) Known() ([]string, error) {
	return r.backend.List()
}
