//go:build debug

package node

// Check validates page before it is interpreted.
// Only enabled with -tags debug.
func Check(page []byte) error {
	return Validate(page)
}
