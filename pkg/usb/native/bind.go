package native

import (
	"fmt"
	"math"
	"sort"
	"unsafe"
)

// Library is an opened shared library.
type Library interface {
	Path() string
	// Lookup returns the address of an exported symbol.
	Lookup(name string) (uintptr, error)
	Close() error
}

// Proc is a bound foreign function.
//
// Arguments are converted to the declared parameter types. Pointer slots
// accept uintptr, unsafe.Pointer or []byte; String slots accept string.
// Integer returns are widened to uint64 (Int32 and Index sign-extended,
// Bool as 0/1).
type Proc interface {
	Call(args ...any) uint64
	CallFloat(args ...any) float64
}

// Func adapts a Go function to Proc. It is used to stand in for native
// symbols.
type Func func(args ...any) uint64

func (f Func) Call(args ...any) uint64 { return f(args...) }

// CallFloat interprets the result bits as a float64.
func (f Func) CallFloat(args ...any) float64 { return math.Float64frombits(f(args...)) }

// SymbolError is returned by Bind when a catalog symbol is not exported.
type SymbolError struct {
	Library string
	Symbol  string
	Err     error
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("%s: missing symbol %s: %v", e.Library, e.Symbol, e.Err)
}

func (e *SymbolError) Unwrap() error { return e.Err }

// Table holds every bound symbol of one library.
type Table struct {
	kind  Kind
	lib   Library
	procs map[string]Proc
	vars  map[string]uintptr
}

// NewTable assembles a Table from already bound procs and variables.
func NewTable(kind Kind, procs map[string]Proc, vars map[string]uintptr) *Table {
	if vars == nil {
		vars = map[string]uintptr{}
	}
	return &Table{kind: kind, procs: procs, vars: vars}
}

// Bind resolves every function and variable of cat in lib. Any missing
// symbol fails the whole bind.
func Bind(lib Library, cat Catalog) (*Table, error) {
	t := &Table{
		kind:  cat.Kind,
		lib:   lib,
		procs: make(map[string]Proc, len(cat.Symbols)),
		vars:  make(map[string]uintptr, len(cat.Vars)),
	}
	for _, sym := range cat.Symbols {
		addr, err := lib.Lookup(sym.Name)
		if err == nil && addr == 0 {
			err = fmt.Errorf("nil address")
		}
		if err != nil {
			return nil, &SymbolError{Library: lib.Path(), Symbol: sym.Name, Err: err}
		}
		t.procs[sym.Name] = newProc(sym, addr)
	}
	for _, v := range cat.Vars {
		addr, err := lib.Lookup(v.Name)
		if err == nil && addr == 0 {
			err = fmt.Errorf("nil address")
		}
		if err != nil {
			return nil, &SymbolError{Library: lib.Path(), Symbol: v.Name, Err: err}
		}
		if v.Deref {
			addr = readPointer(addr)
		}
		t.vars[v.Name] = addr
	}
	return t, nil
}

func (t *Table) Kind() Kind { return t.kind }

// Proc returns the bound function name. Asking for a name outside the
// catalog is a programming error and panics.
func (t *Table) Proc(name string) Proc {
	p, ok := t.procs[name]
	if !ok {
		panic(fmt.Sprintf("native: %s has no bound symbol %q", t.kind, name))
	}
	return p
}

// Var returns the value of a bound data symbol.
func (t *Table) Var(name string) uintptr {
	v, ok := t.vars[name]
	if !ok {
		panic(fmt.Sprintf("native: %s has no bound variable %q", t.kind, name))
	}
	return v
}

// Names lists the bound function names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.procs))
	for n := range t.procs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close unloads the underlying library. Procs must not be called afterwards.
func (t *Table) Close() error {
	if t.lib == nil {
		return nil
	}
	lib := t.lib
	t.lib = nil
	return lib.Close()
}

func readPointer(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

// GoString copies the NUL-terminated C string at p.
func GoString(p uintptr) string {
	if p == 0 {
		return ""
	}
	ptr := unsafe.Pointer(p)
	n := 0
	for *(*byte)(unsafe.Add(ptr, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(ptr), n))
}
