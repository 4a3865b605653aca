// Package ops implements the operation router: the table of named
// bit-level transformations algorithms may propose, with their
// authoritative costs.
package ops

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/ir"
)

// Category groups operations by effect.
type Category string

const (
	CategoryBitwise Category = "bitwise"
	CategoryShift   Category = "shift"
	CategoryBit     Category = "bit"
	CategoryLength  Category = "length"
	CategoryUnknown Category = ""
)

// Result is the outcome of applying one operation.
type Result struct {
	Success bool
	Bits    bits.Buffer
	Error   string
}

// Router applies operations by name and reports their costs.
// Implementations must be pure: the same name, bits and params always
// produce the same Result.
type Router interface {
	Apply(name string, b bits.Buffer, params ir.Object) Result
	Cost(name string) float64
	Category(name string) Category
}

// ApplyFunc transforms b according to params.
type ApplyFunc func(b bits.Buffer, params ir.Object) (bits.Buffer, error)

// LengthFunc reports the length ApplyFunc would produce for a buffer of
// length n, without allocating it.
type LengthFunc func(n int, params ir.Object) (int, error)

// DefaultMaxLength bounds the length of any operation result, in bits.
const DefaultMaxLength = 1 << 24

// Definition describes one operation.
type Definition struct {
	Name        string
	Category    Category
	Cost        float64
	Description string
	Params      []string
	Apply       ApplyFunc

	// Length is set for operations whose output size comes from params.
	// Apply refuses a result longer than the library maximum before
	// calling ApplyFunc.
	Length LengthFunc
}

// LengthChanging reports whether the operation may change buffer length.
func (d Definition) LengthChanging() bool {
	return d.Category == CategoryLength
}

// Library is the in-process Router. Names are case-insensitive and stored
// upper case. Safe for concurrent use.
type Library struct {
	mu     sync.RWMutex
	defs   map[string]Definition
	maxLen int
}

// NewLibrary returns an empty library limited to DefaultMaxLength bits.
func NewLibrary() *Library {
	return &Library{defs: make(map[string]Definition), maxLen: DefaultMaxLength}
}

// SetMaxLength changes the longest result, in bits, Apply will produce.
func (l *Library) SetMaxLength(n int) error {
	if n <= 0 {
		return fmt.Errorf("max length must be positive, got %d", n)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxLen = n
	return nil
}

// MaxLength returns the longest result Apply will produce.
func (l *Library) MaxLength() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.maxLen
}

// Register adds an operation. Registering a name twice is an error.
func (l *Library) Register(def Definition) error {
	name := normalize(def.Name)
	if name == "" {
		return fmt.Errorf("operation name is required")
	}
	if def.Apply == nil {
		return fmt.Errorf("operation %s: apply function is required", name)
	}
	if def.Cost < 0 {
		return fmt.Errorf("operation %s: cost must be non-negative, got %v", name, def.Cost)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.defs[name]; exists {
		return fmt.Errorf("operation %s already registered", name)
	}
	def.Name = name
	l.defs[name] = def
	return nil
}

// SetCost overrides the cost of a registered operation.
func (l *Library) SetCost(name string, cost float64) error {
	if cost < 0 {
		return fmt.Errorf("operation %s: cost must be non-negative, got %v", name, cost)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := normalize(name)
	def, ok := l.defs[key]
	if !ok {
		return fmt.Errorf("unknown operation %q", name)
	}
	def.Cost = cost
	l.defs[key] = def
	return nil
}

// Lookup returns the definition for name.
func (l *Library) Lookup(name string) (Definition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.defs[normalize(name)]
	return def, ok
}

// Definitions returns all operations sorted by name.
func (l *Library) Definitions() []Definition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Definition, 0, len(l.defs))
	for _, d := range l.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all operation names sorted.
func (l *Library) Names() []string {
	defs := l.Definitions()
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}

// Apply runs the named operation. Unknown names, invalid params, results
// longer than MaxLength and panics inside the operation all produce an
// unsuccessful Result.
func (l *Library) Apply(name string, b bits.Buffer, params ir.Object) (res Result) {
	def, ok := l.Lookup(name)
	if !ok {
		return Result{Error: fmt.Sprintf("unknown operation %q", name)}
	}
	if params == nil {
		params = ir.Object{}
	}
	limit := l.MaxLength()
	if def.Length != nil {
		n, err := def.Length(b.Len(), params)
		if err != nil {
			return Result{Error: fmt.Sprintf("%s: %v", def.Name, err)}
		}
		if n > limit {
			return Result{Error: fmt.Sprintf("%s: result length %d exceeds maximum %d", def.Name, n, limit)}
		}
	}
	defer func() {
		if r := recover(); r != nil {
			res = Result{Error: fmt.Sprintf("operation %s panicked: %v", def.Name, r)}
		}
	}()
	out, err := def.Apply(b, params)
	if err != nil {
		return Result{Error: fmt.Sprintf("%s: %v", def.Name, err)}
	}
	if out.Len() > limit {
		return Result{Error: fmt.Sprintf("%s: result length %d exceeds maximum %d", def.Name, out.Len(), limit)}
	}
	return Result{Success: true, Bits: out}
}

// Cost returns the authoritative cost. Unknown operations cost 0; they
// can never be applied.
func (l *Library) Cost(name string) float64 {
	def, ok := l.Lookup(name)
	if !ok {
		return 0
	}
	return def.Cost
}

// Category returns the operation category, or CategoryUnknown.
func (l *Library) Category(name string) Category {
	def, ok := l.Lookup(name)
	if !ok {
		return CategoryUnknown
	}
	return def.Category
}

// IsLengthChanging reports whether the router classifies name as a
// length-changing operation.
func IsLengthChanging(r Router, name string) bool {
	return r.Category(name) == CategoryLength
}

func normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
