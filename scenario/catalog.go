package scenario

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wippyai/canister-sim/canister"
	"github.com/wippyai/canister-sim/errors"
	"github.com/wippyai/canister-sim/principal"
)

// Env is what a factory sees when it builds a canister.
type Env struct {
	Params map[string]any
	// Resolve maps a scenario canister name to its id.
	Resolve func(name string) (principal.Principal, bool)
	Name    string
}

// String returns a string parameter or def.
func (e Env) String(key, def string) string {
	if v, ok := e.Params[key].(string); ok {
		return v
	}
	return def
}

// Bool returns a boolean parameter or def.
func (e Env) Bool(key string, def bool) bool {
	if v, ok := e.Params[key].(bool); ok {
		return v
	}
	return def
}

// Target resolves the canister named by the key parameter.
func (e Env) Target(key string) (principal.Principal, error) {
	name := e.String(key, "")
	if name == "" {
		return principal.Principal{}, errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("canister %s: parameter %q is required", e.Name, key))
	}
	id, ok := e.Resolve(name)
	if !ok {
		return principal.Principal{}, errors.NotFound(errors.PhaseConfig, "canister", name)
	}
	return id, nil
}

// Factory builds fresh canister logic.
type Factory func(env Env) (*canister.Canister, error)

// Entry is a catalog kind.
type Entry struct {
	Build       Factory
	Description string
	// Codecs maps method names to argument/reply codecs. Methods not
	// listed use Default.
	Codecs  map[string]canister.Codec
	Default canister.Codec
	// InitCodec encodes the init argument.
	InitCodec canister.Codec
}

// Codec returns the codec used for method.
func (e Entry) Codec(method string) canister.Codec {
	if c, ok := e.Codecs[method]; ok {
		return c
	}
	if e.Default != nil {
		return e.Default
	}
	return canister.Raw
}

// Catalog maps kind names to canister factories.
type Catalog struct {
	entries map[string]Entry
	mu      sync.RWMutex
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]Entry)}
}

// Register adds kind to the catalog.
func (c *Catalog) Register(kind string, e Entry) error {
	if kind == "" || e.Build == nil {
		return errors.InvalidInput(errors.PhaseConfig, "catalog entry needs a kind and a factory")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[kind]; exists {
		return errors.Duplicate(errors.PhaseConfig, "catalog kind", kind)
	}
	c.entries[kind] = e
	return nil
}

// Lookup returns the entry for kind.
func (c *Catalog) Lookup(kind string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[kind]
	return e, ok
}

// Kinds lists the registered kinds in order.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]string, 0, len(c.entries))
	for k := range c.entries {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Builtin returns a new catalog holding the demo canisters: echo, adder,
// counter, forwarder, kv and trapper.
func Builtin() *Catalog {
	c := NewCatalog()
	for kind, e := range builtinEntries() {
		if err := c.Register(kind, e); err != nil {
			panic(err)
		}
	}
	return c
}
