//go:build darwin || windows

package native

import (
	"fmt"
	"math"
	"reflect"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

type pureProc struct {
	sym Symbol
	in  []reflect.Type
	fn  reflect.Value
}

func newProc(sym Symbol, addr uintptr) Proc {
	in := make([]reflect.Type, len(sym.Args))
	for i, a := range sym.Args {
		in[i] = a.goType()
	}
	var out []reflect.Type
	if sym.Ret != Void {
		out = []reflect.Type{sym.Ret.goType()}
	}
	fptr := reflect.New(reflect.FuncOf(in, out, false))
	purego.RegisterFunc(fptr.Interface(), addr)
	return &pureProc{sym: sym, in: in, fn: fptr.Elem()}
}

func (p *pureProc) call(args []any) []reflect.Value {
	if len(args) != len(p.in) {
		panic(fmt.Sprintf("native: %s called with %d args", p.sym, len(args)))
	}
	vals := make([]reflect.Value, len(args))
	for i, a := range args {
		vals[i] = convertArg(a, p.in[i])
	}
	out := p.fn.Call(vals)
	runtime.KeepAlive(args)
	return out
}

func (p *pureProc) Call(args ...any) uint64 {
	out := p.call(args)
	if len(out) == 0 {
		return 0
	}
	v := out[0]
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	case reflect.Int, reflect.Int32, reflect.Int64:
		return uint64(v.Int())
	case reflect.Float64:
		return math.Float64bits(v.Float())
	default:
		return v.Uint()
	}
}

func (p *pureProc) CallFloat(args ...any) float64 {
	out := p.call(args)
	if len(out) == 0 {
		return 0
	}
	if out[0].Kind() == reflect.Float64 {
		return out[0].Float()
	}
	return float64(out[0].Uint())
}

func convertArg(a any, t reflect.Type) reflect.Value {
	switch v := a.(type) {
	case unsafe.Pointer:
		return reflect.ValueOf(uintptr(v)).Convert(t)
	case []byte:
		if len(v) == 0 {
			return reflect.Zero(t)
		}
		return reflect.ValueOf(uintptr(unsafe.Pointer(&v[0]))).Convert(t)
	case nil:
		return reflect.Zero(t)
	}
	return reflect.ValueOf(a).Convert(t)
}

// NewCallback returns a C function pointer invoking fn. Callbacks are never
// freed, so create them once per process.
func NewCallback(fn any) uintptr {
	return purego.NewCallback(fn)
}
