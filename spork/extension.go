package spork

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DiagnosticsExtension is loaded after every discovered extension,
// regardless of the configured roots. It's not expected to live under
// any of them.
const DiagnosticsExtension = "diagnostics"

const extensionSeparator = "/"

// privateMarker hides an extension, or a namespace and everything under
// it, from Discover. Private extensions can still be loaded by name.
const privateMarker = "_"

// helperNamespaceMarker hides namespaces, not extensions: "exts/util/x"
// is never discovered but "exts/utility" is.
const helperNamespaceMarker = "util"

// Extension is a unit of command/listener registration. Register is
// called once, when the extension is loaded, and should add everything
// the extension provides to the bot.
type Extension interface {
	Register(bot *Spork) error
}

// Unloader is implemented by extensions that need to clean up after
// themselves when unloaded. Commands and listeners added during Register
// are removed automatically.
type Unloader interface {
	Unload(bot *Spork) error
}

// ExtensionFunc adapts a plain function to Extension
type ExtensionFunc func(bot *Spork) error

func (f ExtensionFunc) Register(bot *Spork) error {
	return f(bot)
}

// ExtensionConstructor returns a fresh Extension each time an extension
// is (re)loaded.
type ExtensionConstructor func() Extension

// ExtensionDescriptor identifies one loadable extension.
type ExtensionDescriptor struct {
	// Name is the path-like name the extension was registered under,
	// ex: "exts/general"
	Name string `json:"name"`

	// Package is true when other extensions are registered beneath this
	// one's name
	Package bool `json:"package"`

	// Private is true when the name, or one of its parent namespaces,
	// starts with a private marker
	Private bool `json:"private"`
}

// Registry is a static set of extension constructors, keyed by name.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]ExtensionConstructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: map[string]ExtensionConstructor{}}
}

// DefaultRegistry holds every extension built into the bot. Extensions
// add themselves from init().
var DefaultRegistry = NewRegistry()

// RegisterExtension adds an extension constructor to DefaultRegistry.
// It panics if the name is empty or already registered.
func RegisterExtension(name string, constructor ExtensionConstructor) {
	if err := DefaultRegistry.Register(name, constructor); err != nil {
		panic(err)
	}
}

// Register adds an extension constructor to the registry
func (r *Registry) Register(name string, constructor ExtensionConstructor) error {
	name = normalizeExtensionName(name)
	if name == "" {
		return fmt.Errorf("extension name cannot be empty")
	}
	if constructor == nil {
		return fmt.Errorf("extension %q: nil constructor", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[name]; exists {
		return fmt.Errorf("extension %q already registered", name)
	}
	r.constructors[name] = constructor
	return nil
}

// New returns a new instance of the named extension
func (r *Registry) New(name string) (Extension, error) {
	name = normalizeExtensionName(name)
	r.mu.RLock()
	constructor, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExtensionNotFound, name)
	}
	return constructor(), nil
}

// Names returns every registered name, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the descriptor for a registered name
func (r *Registry) Describe(name string) (ExtensionDescriptor, bool) {
	name = normalizeExtensionName(name)
	names := r.Names()
	found := false
	for _, n := range names {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return ExtensionDescriptor{}, false
	}
	return describe(name, names, ""), true
}

// Discover walks each root namespace and returns descriptors for every
// extension beneath it, sorted by name. Extensions whose name (relative
// to the root) has a segment starting with "_", or that sit in a "util"
// namespace, are left out. A root with nothing registered beneath it is a
// *ConfigError.
func (r *Registry) Discover(roots ...string) ([]ExtensionDescriptor, error) {
	names := r.Names()
	seen := map[string]ExtensionDescriptor{}

	for _, root := range roots {
		root = normalizeExtensionName(root)
		found := false

		for _, name := range names {
			rel, ok := relativeExtensionName(root, name)
			if !ok {
				continue
			}
			found = true
			if isPrivateExtension(rel) {
				continue
			}
			seen[name] = describe(name, names, root)
		}

		if !found {
			return nil, &ConfigError{
				Field: "extension_roots",
				Err:   fmt.Errorf("%w: nothing registered under %q", ErrExtensionNotFound, root),
			}
		}
	}

	descriptors := make([]ExtensionDescriptor, 0, len(seen))
	for _, d := range seen {
		descriptors = append(descriptors, d)
	}
	sort.Slice(
		descriptors, func(i, j int) bool {
			return descriptors[i].Name < descriptors[j].Name
		},
	)
	return descriptors, nil
}

func describe(name string, names []string, root string) ExtensionDescriptor {
	d := ExtensionDescriptor{Name: name}
	rel, ok := relativeExtensionName(root, name)
	if !ok {
		rel = name
	}
	d.Private = isPrivateExtension(rel)
	for _, other := range names {
		if strings.HasPrefix(other, name+extensionSeparator) {
			d.Package = true
			break
		}
	}
	return d
}

// relativeExtensionName returns name relative to root, and whether name
// is beneath (or equal to) root at all. An empty root contains everything.
func relativeExtensionName(root string, name string) (string, bool) {
	if root == "" {
		return name, true
	}
	if name == root {
		return name[strings.LastIndex(name, extensionSeparator)+1:], true
	}
	if rel, ok := strings.CutPrefix(name, root+extensionSeparator); ok {
		return rel, true
	}
	return "", false
}

func isPrivateExtension(rel string) bool {
	segments := strings.Split(rel, extensionSeparator)
	for i, segment := range segments {
		if strings.HasPrefix(segment, privateMarker) {
			return true
		}
		if i < len(segments)-1 && strings.HasPrefix(segment, helperNamespaceMarker) {
			return true
		}
	}
	return false
}

func normalizeExtensionName(name string) string {
	return strings.Trim(strings.TrimSpace(name), extensionSeparator)
}
