//go:build !darwin && !windows

package native

// Open always fails: Apple's device libraries only ship for darwin and
// windows.
func Open(string) (Library, error) {
	return nil, ErrUnsupportedPlatform
}
