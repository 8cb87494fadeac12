// Package registry holds the set of configured backend adaptors and resolves
// which adaptor owns a given node or policy type.
//
// The registry is built once at startup from adaptor_config and is immutable
// afterwards, so it is safe for concurrent use by any number of submissions.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/micado-scale/submitter/config"
)

var (
	// ErrDuplicateAdaptorName is returned when two adaptors share a name.
	ErrDuplicateAdaptorName = errors.New("duplicate adaptor name")
	// ErrInvalidEndpoint is returned when an adaptor endpoint is missing or
	// not an absolute http(s) URL.
	ErrInvalidEndpoint = errors.New("invalid adaptor endpoint")
	// ErrInvalidVolumePath is returned when an adaptor volume path is missing
	// or not absolute.
	ErrInvalidVolumePath = errors.New("invalid adaptor volume path")
	// ErrAmbiguousType is returned when two adaptors could claim the same
	// concrete type with equal specificity.
	ErrAmbiguousType = errors.New("ambiguous type pattern")
	// ErrUnmatchedType is returned when no adaptor owns a concrete type.
	ErrUnmatchedType = errors.New("unmatched type")
)

// Descriptor describes one registered adaptor. Immutable after registry load.
type Descriptor struct {
	// Name is the unique adaptor key, e.g. "KubernetesAdaptor".
	Name string `json:"name"`
	// Types are the type patterns this adaptor owns.
	Types []string `json:"types"`
	// Endpoint is the base URL of the adaptor service.
	Endpoint string `json:"endpoint"`
	// Volume is the directory the adaptor's artifacts live under.
	Volume string `json:"volume"`
}

// Registry is the immutable set of registered adaptors.
type Registry struct {
	byName  map[string]*Descriptor
	ordered []*Descriptor // sorted by name

	exact     map[string]*Descriptor // concrete pattern -> owner
	wildcards []wildcardPattern      // sorted longest prefix first
}

type wildcardPattern struct {
	prefix string
	owner  *Descriptor
}

// New builds a Registry from descriptors and validates it eagerly: names must
// be unique, endpoints and volumes valid, and no two adaptors may claim a
// type with equal specificity. Volume directories are created if absent.
func New(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]*Descriptor, len(descriptors)),
		exact:  make(map[string]*Descriptor),
	}

	for i := range descriptors {
		d := descriptors[i]
		if _, exists := r.byName[d.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAdaptorName, d.Name)
		}
		if err := validateEndpoint(d.Endpoint); err != nil {
			return nil, fmt.Errorf("adaptor %s: %w", d.Name, err)
		}
		if err := ensureVolume(d.Volume); err != nil {
			return nil, fmt.Errorf("adaptor %s: %w", d.Name, err)
		}

		r.byName[d.Name] = &d
		r.ordered = append(r.ordered, &d)

		for _, pattern := range d.Types {
			if err := r.addPattern(pattern, &d); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].Name < r.ordered[j].Name })
	// Longest prefix first so Match can take the first hit.
	sort.Slice(r.wildcards, func(i, j int) bool {
		if len(r.wildcards[i].prefix) != len(r.wildcards[j].prefix) {
			return len(r.wildcards[i].prefix) > len(r.wildcards[j].prefix)
		}
		return r.wildcards[i].prefix < r.wildcards[j].prefix
	})

	return r, nil
}

// LoadFromConfig builds a Registry from the adaptor_config stanza.
func LoadFromConfig(adaptors map[string]config.AdaptorConfig) (*Registry, error) {
	names := make([]string, 0, len(adaptors))
	for name := range adaptors {
		names = append(names, name)
	}
	sort.Strings(names)

	descriptors := make([]Descriptor, 0, len(names))
	for _, name := range names {
		a := adaptors[name]
		descriptors = append(descriptors, Descriptor{
			Name:     name,
			Types:    a.Types,
			Endpoint: a.Endpoint,
			Volume:   a.Volume,
		})
	}
	return New(descriptors...)
}

// addPattern indexes one type pattern, rejecting overlapping claims.
func (r *Registry) addPattern(pattern string, owner *Descriptor) error {
	if prefix, ok := wildcardPrefix(pattern); ok {
		for _, w := range r.wildcards {
			if w.prefix == prefix {
				return fmt.Errorf("%w: %q claimed by %s and %s",
					ErrAmbiguousType, pattern, w.owner.Name, owner.Name)
			}
		}
		r.wildcards = append(r.wildcards, wildcardPattern{prefix: prefix, owner: owner})
		return nil
	}

	if prev, exists := r.exact[pattern]; exists {
		return fmt.Errorf("%w: %q claimed by %s and %s",
			ErrAmbiguousType, pattern, prev.Name, owner.Name)
	}
	r.exact[pattern] = owner
	return nil
}

// Lookup returns the descriptor for an adaptor name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// All returns all registered adaptors, sorted by name.
func (r *Registry) All() []*Descriptor {
	out := make([]*Descriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Match resolves the single adaptor owning the given concrete type.
// An exact pattern always wins; otherwise the wildcard with the longest
// matching prefix does. Returns ErrUnmatchedType when no adaptor claims the
// type.
func (r *Registry) Match(typeName string) (*Descriptor, error) {
	if d, ok := r.exact[typeName]; ok {
		return d, nil
	}

	// Wildcards are sorted longest prefix first, so the first match is the
	// most specific one.
	for _, w := range r.wildcards {
		if strings.HasPrefix(typeName, w.prefix) {
			return w.owner, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnmatchedType, typeName)
}

// wildcardPrefix reports whether pattern is a wildcard family and returns the
// literal prefix up to the first "*" segment. "tosca.nodes.MiCADO.Occopus.*"
// yields "tosca.nodes.MiCADO.Occopus.".
func wildcardPrefix(pattern string) (string, bool) {
	idx := strings.Index(pattern, "*")
	if idx < 0 {
		return "", false
	}
	return pattern[:idx], true
}

// validateEndpoint checks an endpoint is an absolute http(s) URL.
func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is empty", ErrInvalidEndpoint)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidEndpoint, endpoint)
	}
	return nil
}

// ensureVolume checks the volume path and creates the directory if absent.
func ensureVolume(volume string) error {
	if volume == "" || !filepath.IsAbs(volume) {
		return fmt.Errorf("%w: %q", ErrInvalidVolumePath, volume)
	}
	if err := os.MkdirAll(volume, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVolumePath, err)
	}
	return nil
}
