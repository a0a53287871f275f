//go:build !darwin && !windows

package native

type unsupportedProc struct{ sym Symbol }

func newProc(sym Symbol, _ uintptr) Proc { return unsupportedProc{sym: sym} }

func (p unsupportedProc) Call(...any) uint64 {
	panic("native: cannot call " + p.sym.Name + ": " + ErrUnsupportedPlatform.Error())
}

func (p unsupportedProc) CallFloat(...any) float64 {
	panic("native: cannot call " + p.sym.Name + ": " + ErrUnsupportedPlatform.Error())
}

// NewCallback is unavailable on this platform.
func NewCallback(any) uintptr {
	panic("native: " + ErrUnsupportedPlatform.Error())
}
