package canister

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/wippyai/canister-sim/errors"
)

// Mode separates state-changing methods from read-only ones.
type Mode uint8

const (
	ModeUpdate Mode = iota
	ModeQuery
)

func (m Mode) String() string {
	if m == ModeQuery {
		return "query"
	}
	return "update"
}

// Handler is the body of an entry point.
type Handler func(sys System)

// InspectFunc decides whether an ingress update message is accepted.
type InspectFunc func(sys System) bool

// Method is one exported entry point.
type Method struct {
	Handler Handler
	Name    string
	Mode    Mode
}

// Canister is the declarative description of a canister's logic: its method
// table and lifecycle hooks. A Canister is immutable once added to a replica
// in practice; it is safe for concurrent reads.
type Canister struct {
	methods     map[string]*Method
	init        Handler
	preUpgrade  Handler
	postUpgrade Handler
	heartbeat   Handler
	inspect     InspectFunc
	name        string
	mu          sync.RWMutex
}

// New creates an empty canister description.
func New(name string) *Canister {
	return &Canister{
		name:    name,
		methods: make(map[string]*Method),
	}
}

// Name returns the descriptive name.
func (c *Canister) Name() string {
	return c.name
}

// AddMethod registers a method. Names must be unique.
func (c *Canister) AddMethod(m Method) error {
	if m.Name == "" {
		return errors.InvalidInput(errors.PhaseRegister, "method name cannot be empty")
	}
	if m.Handler == nil {
		return errors.InvalidInput(errors.PhaseRegister, "method "+m.Name+" has no handler")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.methods[m.Name]; exists {
		return errors.Duplicate(errors.PhaseRegister, "method", m.Name)
	}
	c.methods[m.Name] = &m
	return nil
}

// Update registers an update method and panics if the name is taken.
func (c *Canister) Update(name string, h Handler) *Canister {
	if err := c.AddMethod(Method{Name: name, Mode: ModeUpdate, Handler: h}); err != nil {
		panic(err)
	}
	return c
}

// Query registers a query method and panics if the name is taken.
func (c *Canister) Query(name string, h Handler) *Canister {
	if err := c.AddMethod(Method{Name: name, Mode: ModeQuery, Handler: h}); err != nil {
		panic(err)
	}
	return c
}

// Method looks up a method by name.
func (c *Canister) Method(name string) (*Method, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.methods[name]
	return m, ok
}

// Methods returns the sorted method names.
func (c *Canister) Methods() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.methods))
	for name := range c.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Canister) WithInit(h Handler) *Canister {
	c.mu.Lock()
	c.init = h
	c.mu.Unlock()
	return c
}

func (c *Canister) WithPreUpgrade(h Handler) *Canister {
	c.mu.Lock()
	c.preUpgrade = h
	c.mu.Unlock()
	return c
}

func (c *Canister) WithPostUpgrade(h Handler) *Canister {
	c.mu.Lock()
	c.postUpgrade = h
	c.mu.Unlock()
	return c
}

func (c *Canister) WithHeartbeat(h Handler) *Canister {
	c.mu.Lock()
	c.heartbeat = h
	c.mu.Unlock()
	return c
}

// WithInspectMessage installs the ingress filter for update calls.
func (c *Canister) WithInspectMessage(fn InspectFunc) *Canister {
	c.mu.Lock()
	c.inspect = fn
	c.mu.Unlock()
	return c
}

func (c *Canister) Init() Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.init
}

func (c *Canister) PreUpgrade() Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.preUpgrade
}

func (c *Canister) PostUpgrade() Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.postUpgrade
}

func (c *Canister) Heartbeat() Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.heartbeat
}

func (c *Canister) InspectMessage() InspectFunc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inspect
}

// QueryLister is implemented by receivers passed to RegisterMethods that
// export query methods. Names are the registered (snake_case) names.
type QueryLister interface {
	QueryMethods() []string
}

var (
	systemType  = reflect.TypeOf((*System)(nil)).Elem()
	boolType    = reflect.TypeOf(false)
	lifecycleOf = map[string]func(*Canister, Handler){
		"Init":        func(c *Canister, h Handler) { c.init = h },
		"PreUpgrade":  func(c *Canister, h Handler) { c.preUpgrade = h },
		"PostUpgrade": func(c *Canister, h Handler) { c.postUpgrade = h },
		"Heartbeat":   func(c *Canister, h Handler) { c.heartbeat = h },
	}
)

// RegisterMethods registers the exported methods of recv.
//
// Methods with signature func(System) become update methods named in
// snake_case (GetBalance -> get_balance), or query methods when listed by
// QueryMethods. Init, PreUpgrade, PostUpgrade and Heartbeat become lifecycle
// hooks and InspectMessage(System) bool becomes the ingress filter. Other
// exported methods are ignored.
func (c *Canister) RegisterMethods(recv any) error {
	if recv == nil {
		return errors.InvalidInput(errors.PhaseRegister, "receiver cannot be nil")
	}

	queries := make(map[string]bool)
	if ql, ok := recv.(QueryLister); ok {
		for _, name := range ql.QueryMethods() {
			queries[name] = true
		}
	}

	rv := reflect.ValueOf(recv)
	rt := rv.Type()

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "QueryMethods" {
			continue
		}
		mt := method.Type // includes receiver

		if method.Name == "InspectMessage" {
			if mt.NumIn() != 2 || mt.In(1) != systemType || mt.NumOut() != 1 || mt.Out(0) != boolType {
				return errors.Registration(method.Name, errors.InvalidInput(errors.PhaseRegister, "InspectMessage must be func(System) bool"))
			}
			c.inspect = rv.Method(i).Interface().(func(System) bool)
			continue
		}

		if mt.NumIn() != 2 || mt.In(1) != systemType || mt.NumOut() != 0 {
			continue
		}
		h := Handler(rv.Method(i).Interface().(func(System)))

		if set, ok := lifecycleOf[method.Name]; ok {
			set(c, h)
			continue
		}

		name := toSnakeCase(method.Name)
		if _, exists := c.methods[name]; exists {
			return errors.Registration(method.Name, errors.Duplicate(errors.PhaseRegister, "method", name))
		}
		mode := ModeUpdate
		if queries[name] {
			mode = ModeQuery
			delete(queries, name)
		}
		c.methods[name] = &Method{Name: name, Mode: mode, Handler: h}
	}

	for name := range queries {
		return errors.Registration(name, errors.NotFound(errors.PhaseRegister, "query method", name))
	}
	return nil
}

// toSnakeCase converts PascalCase to snake_case. A run of capitals is one
// word, ending before a capital that starts a lowercase word:
// GetHTTPServer -> get_http_server, GetHTTPURL -> get_httpurl.
func toSnakeCase(s string) string {
	if len(s) == 0 {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsUpper(r) {
			acronymEnd := i + 1
			for acronymEnd < len(runes) && unicode.IsUpper(runes[acronymEnd]) {
				acronymEnd++
			}

			if acronymEnd > i+1 {
				// Last uppercase before lowercase starts next word, not part of acronym
				if acronymEnd < len(runes) && unicode.IsLower(runes[acronymEnd]) {
					acronymEnd--
				}
			}

			if i > 0 {
				result.WriteByte('_')
			}

			for j := i; j < acronymEnd; j++ {
				result.WriteRune(unicode.ToLower(runes[j]))
			}
			i = acronymEnd - 1
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
