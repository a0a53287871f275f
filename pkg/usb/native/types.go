// Package native resolves Apple's CoreFoundation and MobileDevice libraries
// and binds a fixed catalog of their exported functions to callable procs.
package native

import (
	"fmt"
	"reflect"
)

// Kind selects one of the two native libraries.
type Kind int

const (
	// Utility is CoreFoundation (strings, numbers, dictionaries, run loops).
	Utility Kind = iota
	// DeviceManagement is MobileDevice (AMDevice*, AFC*).
	DeviceManagement
)

func (k Kind) String() string {
	switch k {
	case Utility:
		return "CoreFoundation"
	case DeviceManagement:
		return "MobileDevice"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Type describes a single argument or return slot of a foreign function.
type Type uint8

const (
	Void Type = iota
	Pointer
	UInt32
	Int32
	UInt64
	Index // CFIndex, a signed pointer-sized integer
	Bool
	Double
	String // NUL-terminated UTF-8, converted from a Go string
	Callback
)

var typeNames = [...]string{
	Void:     "void",
	Pointer:  "pointer",
	UInt32:   "uint32",
	Int32:    "int32",
	UInt64:   "uint64",
	Index:    "index",
	Bool:     "bool",
	Double:   "double",
	String:   "string",
	Callback: "callback",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

func (t Type) goType() reflect.Type {
	switch t {
	case Pointer, Callback:
		return reflect.TypeOf(uintptr(0))
	case UInt32:
		return reflect.TypeOf(uint32(0))
	case Int32:
		return reflect.TypeOf(int32(0))
	case UInt64:
		return reflect.TypeOf(uint64(0))
	case Index:
		return reflect.TypeOf(int(0))
	case Bool:
		return reflect.TypeOf(false)
	case Double:
		return reflect.TypeOf(float64(0))
	case String:
		return reflect.TypeOf("")
	default:
		panic(fmt.Sprintf("native: %s has no Go representation", t))
	}
}

// Symbol is the declared signature of one exported function.
type Symbol struct {
	Name string
	Args []Type
	Ret  Type
}

func (s Symbol) String() string {
	return fmt.Sprintf("%s %s%v", s.Ret, s.Name, s.Args)
}

// Var is an exported data symbol.
type Var struct {
	Name string
	// Deref reads the pointer stored at the symbol address (CFStringRef
	// constants such as kCFRunLoopDefaultMode) instead of using the address.
	Deref bool
}

// Catalog is the complete set of symbols bound from one library.
type Catalog struct {
	Kind    Kind
	Symbols []Symbol
	Vars    []Var
}

// Lookup returns the signature declared for name.
func (c Catalog) Lookup(name string) (Symbol, bool) {
	for _, s := range c.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}
