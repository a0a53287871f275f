// Package cftest provides an in-memory CoreFoundation for tests of code
// built on the corefoundation package.
package cftest

import (
	"math"
	"sync"
	"unicode/utf16"
	"unsafe"

	cf "github.com/blacktop/idevice/pkg/usb/corefoundation"
	"github.com/blacktop/idevice/pkg/usb/native"
)

// Type IDs reported by the fake.
const (
	TypeString     = 7
	TypeNumber     = 22
	TypeBoolean    = 21
	TypeDictionary = 18
)

const (
	RunLoop     = 0x7700
	DefaultMode = 0x7710
	CommonModes = 0x7720
)

type dict struct {
	keys []uintptr
	vals []uintptr
}

type object struct {
	value any // string, int64, bool, *dict
	refs  int
}

// Timer records a CFRunLoopTimerCreate call.
type Timer struct {
	FireDate float64
	Interval float64
	Callout  uintptr
	Added    bool
}

// Fake is a reference counted object store answering the CoreFoundation
// catalog.
type Fake struct {
	mu     sync.Mutex
	objs   map[uintptr]*object
	next   uintptr
	pinned [][]byte

	// FastPath makes CFStringGetCStringPtr return a direct pointer.
	FastPath bool
	// Now is returned by CFAbsoluteTimeGetCurrent.
	Now float64
	// OnRunInMode is called by CFRunLoopRunInMode. A nil hook returns
	// kCFRunLoopRunTimedOut.
	OnRunInMode func(seconds float64) int32

	Runs   int
	Stops  int
	Timers map[uintptr]*Timer
	Freed  []uintptr
}

func New() *Fake {
	return &Fake{
		objs:   make(map[uintptr]*object),
		next:   0x1000,
		Timers: make(map[uintptr]*Timer),
	}
}

// CoreFoundation returns a facade over the fake.
func (f *Fake) CoreFoundation() *cf.CoreFoundation {
	return cf.New(f.Table())
}

func arg(a any) uintptr {
	switch v := a.(type) {
	case uintptr:
		return v
	case cf.Ref:
		return uintptr(v)
	case unsafe.Pointer:
		return uintptr(v)
	case int:
		return uintptr(v)
	case uint32:
		return uintptr(v)
	case nil:
		return 0
	default:
		panic("cftest: unexpected argument type")
	}
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (f *Fake) add(v any) uintptr {
	f.next += 0x10
	f.objs[f.next] = &object{value: v, refs: 1}
	return f.next
}

func (f *Fake) retain(r uintptr) {
	if o, ok := f.objs[r]; ok {
		o.refs++
	}
}

func (f *Fake) release(r uintptr) {
	o, ok := f.objs[r]
	if !ok {
		panic("cftest: release of unknown or freed object")
	}
	o.refs--
	if o.refs > 0 {
		return
	}
	delete(f.objs, r)
	f.Freed = append(f.Freed, r)
	if d, ok := o.value.(*dict); ok {
		for i := range d.keys {
			f.release(d.keys[i])
			f.release(d.vals[i])
		}
	}
}

// String creates a CFString with one reference.
func (f *Fake) String(s string) cf.Ref {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cf.Ref(f.add(s))
}

// Number creates a CFNumber with one reference.
func (f *Fake) Number(n int64) cf.Ref {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cf.Ref(f.add(n))
}

// Bool creates a CFBoolean with one reference.
func (f *Fake) Bool(b bool) cf.Ref {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cf.Ref(f.add(b))
}

// Dict creates a CFDictionary with string keys over existing values.
func (f *Fake) Dict(m map[string]cf.Ref) cf.Ref {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &dict{}
	for k, v := range m {
		d.keys = append(d.keys, f.add(k))
		f.retain(uintptr(v))
		d.vals = append(d.vals, uintptr(v))
	}
	return cf.Ref(f.add(d))
}

// Value returns the Go value of a live object: string, int64, bool or
// map[string]any for dictionaries.
func (f *Fake) Value(r cf.Ref) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value(uintptr(r))
}

func (f *Fake) value(r uintptr) any {
	o, ok := f.objs[r]
	if !ok {
		return nil
	}
	if d, ok := o.value.(*dict); ok {
		m := make(map[string]any, len(d.keys))
		for i, k := range d.keys {
			m[f.objs[k].value.(string)] = f.value(d.vals[i])
		}
		return m
	}
	return o.value
}

// Alive reports whether r has not been freed.
func (f *Fake) Alive(r cf.Ref) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objs[uintptr(r)]
	return ok
}

// Live counts objects not yet freed.
func (f *Fake) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objs)
}

func (f *Fake) str(r uintptr) string {
	if o, ok := f.objs[r]; ok {
		if s, ok := o.value.(string); ok {
			return s
		}
	}
	panic("cftest: not a string")
}

func (f *Fake) locked(fn func(args ...any) uint64) native.Proc {
	return native.Func(func(args ...any) uint64 {
		f.mu.Lock()
		defer f.mu.Unlock()
		return fn(args...)
	})
}

// Table binds the fake to every symbol of native.CoreFoundationCatalog.
func (f *Fake) Table() *native.Table {
	typeOf := map[string]uint64{
		"CFStringGetTypeID":     TypeString,
		"CFNumberGetTypeID":     TypeNumber,
		"CFBooleanGetTypeID":    TypeBoolean,
		"CFDictionaryGetTypeID": TypeDictionary,
	}
	procs := map[string]native.Proc{
		"CFStringCreateWithCString": f.locked(func(a ...any) uint64 {
			return uint64(f.add(a[1].(string)))
		}),
		"CFStringGetCStringPtr": f.locked(func(a ...any) uint64 {
			if !f.FastPath {
				return 0
			}
			b := append([]byte(f.str(arg(a[0]))), 0)
			f.pinned = append(f.pinned, b)
			return uint64(uintptr(unsafe.Pointer(&b[0])))
		}),
		"CFStringGetCString": f.locked(func(a ...any) uint64 {
			s := f.str(arg(a[0]))
			buf := a[1].([]byte)
			if len(s)+1 > a[2].(int) {
				return 0
			}
			copy(buf, s)
			buf[len(s)] = 0
			return 1
		}),
		"CFStringGetLength": f.locked(func(a ...any) uint64 {
			return uint64(len(utf16.Encode([]rune(f.str(arg(a[0]))))))
		}),
		"CFNumberGetValue": f.locked(func(a ...any) uint64 {
			o, ok := f.objs[arg(a[0])]
			if !ok {
				return 0
			}
			n, ok := o.value.(int64)
			if !ok {
				return 0
			}
			*(*int64)(a[2].(unsafe.Pointer)) = n
			return 1
		}),
		"CFBooleanGetValue": f.locked(func(a ...any) uint64 {
			b, _ := f.objs[arg(a[0])].value.(bool)
			return b2u(b)
		}),
		"CFDictionaryCreate": f.locked(func(a ...any) uint64 {
			n := a[3].(int)
			d := &dict{}
			if n > 0 {
				d.keys = append(d.keys, unsafe.Slice((*uintptr)(a[1].(unsafe.Pointer)), n)...)
				d.vals = append(d.vals, unsafe.Slice((*uintptr)(a[2].(unsafe.Pointer)), n)...)
			}
			for i := range d.keys {
				f.retain(d.keys[i])
				f.retain(d.vals[i])
			}
			return uint64(f.add(d))
		}),
		"CFDictionaryGetValue": f.locked(func(a ...any) uint64 {
			d := f.objs[arg(a[0])].value.(*dict)
			key := f.str(arg(a[1]))
			for i, k := range d.keys {
				if f.str(k) == key {
					return uint64(d.vals[i])
				}
			}
			return 0
		}),
		"CFDictionaryGetCount": f.locked(func(a ...any) uint64 {
			return uint64(len(f.objs[arg(a[0])].value.(*dict).keys))
		}),
		"CFDictionaryGetKeysAndValues": f.locked(func(a ...any) uint64 {
			d := f.objs[arg(a[0])].value.(*dict)
			copy(unsafe.Slice((*uintptr)(a[1].(unsafe.Pointer)), len(d.keys)), d.keys)
			copy(unsafe.Slice((*uintptr)(a[2].(unsafe.Pointer)), len(d.vals)), d.vals)
			return 0
		}),
		"CFGetTypeID": f.locked(func(a ...any) uint64 {
			o, ok := f.objs[arg(a[0])]
			if !ok {
				return 0
			}
			switch o.value.(type) {
			case string:
				return TypeString
			case int64:
				return TypeNumber
			case bool:
				return TypeBoolean
			case *dict:
				return TypeDictionary
			}
			return 0
		}),
		"CFRelease": f.locked(func(a ...any) uint64 {
			f.release(arg(a[0]))
			return 0
		}),
		"CFRunLoopGetCurrent": native.Func(func(...any) uint64 { return RunLoop }),
		"CFRunLoopRun": f.locked(func(...any) uint64 {
			f.Runs++
			return 0
		}),
		"CFRunLoopStop": f.locked(func(...any) uint64 {
			f.Stops++
			return 0
		}),
		"CFRunLoopRunInMode": native.Func(func(a ...any) uint64 {
			f.mu.Lock()
			f.Runs++
			hook := f.OnRunInMode
			f.mu.Unlock()
			if hook == nil {
				return uint64(cf.RunTimedOut)
			}
			return uint64(hook(a[1].(float64)))
		}),
		"CFAbsoluteTimeGetCurrent": f.locked(func(...any) uint64 {
			return math.Float64bits(f.Now)
		}),
		"CFRunLoopTimerCreate": f.locked(func(a ...any) uint64 {
			r := f.add("timer")
			f.Timers[r] = &Timer{FireDate: a[1].(float64), Interval: a[2].(float64), Callout: arg(a[5])}
			return uint64(r)
		}),
		"CFRunLoopAddTimer": f.locked(func(a ...any) uint64 {
			f.Timers[arg(a[1])].Added = true
			return 0
		}),
		"CFRunLoopRemoveTimer": f.locked(func(a ...any) uint64 {
			f.Timers[arg(a[1])].Added = false
			return 0
		}),
	}
	for name, id := range typeOf {
		id := id
		procs[name] = native.Func(func(...any) uint64 { return id })
	}
	return native.NewTable(native.Utility, procs, map[string]uintptr{
		"kCFTypeDictionaryKeyCallBacks":   0x7730,
		"kCFTypeDictionaryValueCallBacks": 0x7740,
		"kCFRunLoopDefaultMode":           DefaultMode,
		"kCFRunLoopCommonModes":           CommonModes,
	})
}
