package config

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sunshine-walker-93/edge_config_admin/internal/kv"
	"github.com/sunshine-walker-93/edge_config_admin/internal/rule"
)

var namespacePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// Registry hands out one Store per namespace, all sharing a backend. Each
// namespace is stored under "ns/<namespace>/" and runs its own actor;
// namespaces never wait on one another.
type Registry struct {
	backend kv.Store
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
	token   func() string
	seed    []rule.Rule

	mu     sync.Mutex
	stores map[string]*Store
	closed bool
}

// NewRegistry creates a registry over backend. opts supplies the logger and
// generators given to every namespace store; its Namespace is ignored.
func NewRegistry(backend kv.Store, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		backend: backend,
		logger:  logger,
		now:     opts.Now,
		newID:   opts.NewID,
		token:   opts.NewToken,
		seed:    opts.SeedRules,
		stores:  make(map[string]*Store),
	}
}

// ValidNamespace reports whether name can be used as a namespace.
func ValidNamespace(name string) bool {
	return namespacePattern.MatchString(name)
}

// Store returns the store for namespace, starting it on first use.
func (r *Registry) Store(namespace string) (*Store, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if !ValidNamespace(namespace) {
		return nil, fmt.Errorf("%w: invalid namespace %q", ErrBadRequest, namespace)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if s, ok := r.stores[namespace]; ok {
		return s, nil
	}

	s := NewStore(kv.WithPrefix(r.backend, "ns/"+namespace+"/"), Options{
		Namespace: namespace,
		Logger:    r.logger,
		Now:       r.now,
		NewID:     r.newID,
		NewToken:  r.token,
		SeedRules: r.seed,
	})
	r.stores[namespace] = s
	r.logger.Debug("namespace store started", zap.String("namespace", namespace))
	return s, nil
}

// Namespaces returns the names of the stores started so far.
func (r *Registry) Namespaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.stores))
	for name := range r.stores {
		out = append(out, name)
	}
	return out
}

// Close stops every namespace store. The backend is left open.
func (r *Registry) Close() {
	r.mu.Lock()
	stores := r.stores
	r.stores = map[string]*Store{}
	r.closed = true
	r.mu.Unlock()

	for _, s := range stores {
		s.Close()
	}
}
