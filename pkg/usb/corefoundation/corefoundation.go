// Package corefoundation wraps the CoreFoundation symbols needed to talk to
// MobileDevice: strings, numbers, dictionaries, run loops and timers.
package corefoundation

import (
	"bytes"
	"fmt"
	"sort"
	"unsafe"

	"github.com/blacktop/idevice/pkg/usb/native"
)

// Ref is a CFTypeRef. The zero Ref is NULL.
type Ref uintptr

// StringEncodingUTF8 is kCFStringEncodingUTF8.
const StringEncodingUTF8 uint32 = 0x08000100

// kCFNumberSInt64Type
const numberSInt64Type = 4

// CoreFoundation is the bound utility library.
type CoreFoundation struct {
	t *native.Table
}

// New wraps a table bound from native.CoreFoundationCatalog.
func New(t *native.Table) *CoreFoundation {
	return &CoreFoundation{t: t}
}

// Load opens CoreFoundation with l.
func Load(l *native.Loader) (*CoreFoundation, error) {
	t, err := l.Load(native.Utility)
	if err != nil {
		return nil, err
	}
	return New(t), nil
}

func (cf *CoreFoundation) Table() *native.Table { return cf.t }

func (cf *CoreFoundation) Close() error { return cf.t.Close() }

func (cf *CoreFoundation) call(name string, args ...any) uint64 {
	return cf.t.Proc(name).Call(args...)
}

// CreateString returns a new CFString the caller must Release.
func (cf *CoreFoundation) CreateString(s string) Ref {
	return Ref(cf.call("CFStringCreateWithCString", uintptr(0), s, StringEncodingUTF8))
}

// StringLength returns the length of s in UTF-16 code units.
func (cf *CoreFoundation) StringLength(s Ref) int {
	return int(int64(cf.call("CFStringGetLength", uintptr(s))))
}

// GoString converts a CFString. The direct pointer is used when
// CoreFoundation can provide one, otherwise the string is copied into a
// buffer large enough for any UTF-8 expansion.
func (cf *CoreFoundation) GoString(s Ref) (string, bool) {
	if s == 0 {
		return "", false
	}
	if p := uintptr(cf.call("CFStringGetCStringPtr", uintptr(s), StringEncodingUTF8)); p != 0 {
		return native.GoString(p), true
	}
	buf := make([]byte, cf.StringLength(s)*3+1)
	if cf.call("CFStringGetCString", uintptr(s), buf, len(buf), StringEncodingUTF8) == 0 {
		return "", false
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), true
}

// Release calls CFRelease. NULL is ignored.
func (cf *CoreFoundation) Release(r Ref) {
	if r != 0 {
		cf.call("CFRelease", uintptr(r))
	}
}

func (cf *CoreFoundation) TypeID(r Ref) uintptr {
	return uintptr(cf.call("CFGetTypeID", uintptr(r)))
}

// NumberValue reads a CFNumber as a signed 64-bit integer.
func (cf *CoreFoundation) NumberValue(n Ref) (int64, bool) {
	v := new(int64)
	ok := cf.call("CFNumberGetValue", uintptr(n), numberSInt64Type, unsafe.Pointer(v)) != 0
	return *v, ok
}

func (cf *CoreFoundation) BooleanValue(b Ref) bool {
	return cf.call("CFBooleanGetValue", uintptr(b)) != 0
}

// DictionaryGetValue looks up a string key. The result is not retained.
func (cf *CoreFoundation) DictionaryGetValue(d Ref, key string) Ref {
	k := cf.CreateString(key)
	defer cf.Release(k)
	return Ref(cf.call("CFDictionaryGetValue", uintptr(d), uintptr(k)))
}

func (cf *CoreFoundation) DictionaryCount(d Ref) int {
	return int(int64(cf.call("CFDictionaryGetCount", uintptr(d))))
}

// DictionaryEntries returns the keys and values of d in matching order.
func (cf *CoreFoundation) DictionaryEntries(d Ref) ([]Ref, []Ref) {
	n := cf.DictionaryCount(d)
	if n <= 0 {
		return nil, nil
	}
	keys := make([]Ref, n)
	vals := make([]Ref, n)
	cf.call("CFDictionaryGetKeysAndValues", uintptr(d), unsafe.Pointer(&keys[0]), unsafe.Pointer(&vals[0]))
	return keys, vals
}

// ToGo converts strings, numbers, booleans and dictionaries (recursively)
// to Go values. Other types are returned as their Ref.
func (cf *CoreFoundation) ToGo(r Ref) any {
	if r == 0 {
		return nil
	}
	switch cf.TypeID(r) {
	case uintptr(cf.call("CFStringGetTypeID")):
		s, _ := cf.GoString(r)
		return s
	case uintptr(cf.call("CFNumberGetTypeID")):
		n, _ := cf.NumberValue(r)
		return n
	case uintptr(cf.call("CFBooleanGetTypeID")):
		return cf.BooleanValue(r)
	case uintptr(cf.call("CFDictionaryGetTypeID")):
		return cf.DictionaryToMap(r)
	default:
		return r
	}
}

// DictionaryToMap converts a CFDictionary with string keys.
func (cf *CoreFoundation) DictionaryToMap(d Ref) map[string]any {
	keys, vals := cf.DictionaryEntries(d)
	m := make(map[string]any, len(keys))
	for i, k := range keys {
		ks, ok := cf.GoString(k)
		if !ok {
			ks = fmt.Sprintf("%#x", uintptr(k))
		}
		m[ks] = cf.ToGo(vals[i])
	}
	return m
}

// CreateDictionary builds an immutable CFDictionary retaining its keys and
// values. Values may be string, Ref or a nested map[string]any. The caller
// must Release the result.
func (cf *CoreFoundation) CreateDictionary(m map[string]any) (Ref, error) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	var temps []Ref
	defer func() {
		for _, r := range temps {
			cf.Release(r)
		}
	}()

	keys := make([]Ref, 0, len(names))
	vals := make([]Ref, 0, len(names))
	for _, name := range names {
		var v Ref
		switch val := m[name].(type) {
		case string:
			v = cf.CreateString(val)
			temps = append(temps, v)
		case Ref:
			v = val
		case map[string]any:
			d, err := cf.CreateDictionary(val)
			if err != nil {
				return 0, err
			}
			v = d
			temps = append(temps, v)
		default:
			return 0, fmt.Errorf("unsupported dictionary value %T for key %q", val, name)
		}
		k := cf.CreateString(name)
		temps = append(temps, k)
		keys = append(keys, k)
		vals = append(vals, v)
	}

	var kp, vp unsafe.Pointer
	if len(keys) > 0 {
		kp, vp = unsafe.Pointer(&keys[0]), unsafe.Pointer(&vals[0])
	}
	d := Ref(cf.call("CFDictionaryCreate",
		uintptr(0), kp, vp, len(keys),
		cf.t.Var("kCFTypeDictionaryKeyCallBacks"),
		cf.t.Var("kCFTypeDictionaryValueCallBacks"),
	))
	if d == 0 {
		return 0, fmt.Errorf("CFDictionaryCreate failed")
	}
	return d, nil
}
