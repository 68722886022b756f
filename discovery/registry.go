package discovery

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/tools"
	"github.com/effective-security/xlog"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Policy decides what happens when a tool name is already taken.
type Policy int

const (
	// FirstWins keeps the tool added first and drops later ones with a warning.
	FirstWins Policy = iota
	// RejectDuplicates fails with ErrDuplicateTool.
	RejectDuplicates
)

func (p Policy) String() string {
	if p == RejectDuplicates {
		return "reject"
	}
	return "first_wins"
}

// ParsePolicy returns the policy by its config name, first_wins if empty.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "first_wins":
		return FirstWins, nil
	case "reject", "reject_duplicates":
		return RejectDuplicates, nil
	}
	return FirstWins, errors.Errorf("unsupported duplicate policy: %s", s)
}

// Registry is the merged tool set of the discovered hosts and local tools.
// It owns the client sessions and closes them in Close.
type Registry struct {
	policy Policy

	lock     sync.RWMutex
	tools    *orderedmap.OrderedMap[string, tools.ITool]
	sessions []*hostSession
	failures []EndpointError
}

// NewRegistry returns an empty registry.
func NewRegistry(policy Policy) *Registry {
	return &Registry{
		policy: policy,
		tools:  orderedmap.New[string, tools.ITool](),
	}
}

// Policy returns the duplicate policy.
func (r *Registry) Policy() Policy {
	return r.policy
}

// Add adds tools in order, applying the duplicate policy.
// With RejectDuplicates nothing is added if any name is taken.
func (r *Registry) Add(list ...tools.ITool) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.add("local", list)
}

func (r *Registry) add(source string, list []tools.ITool) error {
	if r.policy == RejectDuplicates {
		seen := map[string]bool{}
		for _, t := range list {
			_, exists := r.tools.Get(t.Name())
			if exists || seen[t.Name()] {
				return errors.Wrapf(ErrDuplicateTool, "%q from %s", t.Name(), source)
			}
			seen[t.Name()] = true
		}
	}

	for _, t := range list {
		if _, exists := r.tools.Get(t.Name()); exists {
			logger.KV(xlog.WARNING,
				"status", "duplicate_tool_dropped",
				"tool", t.Name(),
				"source", source,
			)
			continue
		}
		r.tools.Set(t.Name(), t)
	}
	return nil
}

// Tools returns the tools in the order they were added.
func (r *Registry) Tools() []tools.ITool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]tools.ITool, 0, r.tools.Len())
	for pair := r.tools.Oldest(); pair != nil; pair = pair.Next() {
		list = append(list, pair.Value)
	}
	return list
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (tools.ITool, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.tools.Get(name)
}

// Names returns the tool names in order.
func (r *Registry) Names() []string {
	return tools.Names(r.Tools()...)
}

// Len returns the number of tools.
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.tools.Len()
}

// Failures returns the endpoints that contributed no tools.
func (r *Registry) Failures() []EndpointError {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]EndpointError(nil), r.failures...)
}

// Close closes the sessions of the discovered hosts.
// The tools of closed sessions fail with ErrExecution.
func (r *Registry) Close() error {
	r.lock.Lock()
	sessions := r.sessions
	r.sessions = nil
	r.lock.Unlock()

	var errs error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}
