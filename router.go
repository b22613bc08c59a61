package linerpc

import (
	"errors"
	"fmt"
	"strings"
)

// Router is a namespace of methods, middleware and child namespaces.
//
// Routers are configured before the server starts serving; routes are
// resolved and cached on first use.
type Router struct {
	prefix string
	label  string

	methods     map[string]methodEntry
	methodOrder []string
	layers      []Layer
	children    map[string]*Router
	childOrder  []string
}

type methodEntry struct {
	method *Method
	label  string
}

// NewRouter creates a router mounted under prefix. label is a short
// human-readable title used in documentation.
func NewRouter(prefix, label string) *Router {
	return &Router{
		prefix:   prefix,
		label:    label,
		methods:  make(map[string]methodEntry),
		children: make(map[string]*Router),
	}
}

// Prefix returns the namespace name of r.
func (r *Router) Prefix() string { return r.prefix }

// Label returns the documentation title of r.
func (r *Router) Label() string { return r.label }

// Use appends middleware. Layers run in the order they are added, after all
// layers of the parent namespaces.
func (r *Router) Use(layers ...Layer) {
	for _, l := range layers {
		if l.Middleware == nil {
			panic("linerpc: Use with nil middleware")
		}
	}
	r.layers = append(r.layers, layers...)
}

// Register attaches m to the last segment of a dotted path. Intermediate
// namespaces are created on demand or reused.
func (r *Router) Register(path, label string, m *Method) error {
	if err := m.validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if seg == "" {
			return fmt.Errorf("linerpc: invalid method path %q", path)
		}
	}

	node := r
	for _, seg := range segments[:len(segments)-1] {
		child, ok := node.children[seg]
		if !ok {
			child = NewRouter(seg, "")
			node.addChild(child)
		}
		node = child
	}

	name := segments[len(segments)-1]
	if _, exists := node.methods[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, path)
	}
	node.methods[name] = methodEntry{method: m, label: label}
	node.methodOrder = append(node.methodOrder, name)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Router) MustRegister(path, label string, m *Method) {
	if err := r.Register(path, label, m); err != nil {
		panic(err)
	}
}

// Mount grafts child under its own prefix.
func (r *Router) Mount(child *Router) error {
	if child == nil || child.prefix == "" {
		return errors.New("linerpc: mounted router needs a prefix")
	}
	if strings.Contains(child.prefix, ".") {
		return fmt.Errorf("linerpc: router prefix %q contains a dot", child.prefix)
	}
	if _, exists := r.children[child.prefix]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicatePrefix, child.prefix)
	}
	if child.contains(r) {
		return fmt.Errorf("linerpc: mounting %q would create a cycle", child.prefix)
	}
	r.addChild(child)
	return nil
}

// MustMount is like Mount but panics on error.
func (r *Router) MustMount(child *Router) {
	if err := r.Mount(child); err != nil {
		panic(err)
	}
}

func (r *Router) addChild(child *Router) {
	r.children[child.prefix] = child
	r.childOrder = append(r.childOrder, child.prefix)
}

func (r *Router) contains(target *Router) bool {
	if r == target {
		return true
	}
	for _, child := range r.children {
		if child.contains(target) {
			return true
		}
	}
	return false
}

// resolve walks segments from r. It returns the method and the middleware
// collected from r and every namespace descended into, outermost first.
func (r *Router) resolve(segments []string) (*Method, []Layer, error) {
	path := strings.Join(segments, ".")
	if len(segments) == 0 {
		return nil, nil, ErrMethodNotFound(path)
	}

	layers := append([]Layer(nil), r.layers...)
	node := r
	for _, seg := range segments[:len(segments)-1] {
		child, ok := node.children[seg]
		if !ok {
			return nil, nil, ErrMethodNotFound(path)
		}
		layers = append(layers, child.layers...)
		node = child
	}

	entry, ok := node.methods[segments[len(segments)-1]]
	if !ok {
		return nil, nil, ErrMethodNotFound(path)
	}
	return entry.method, layers, nil
}
